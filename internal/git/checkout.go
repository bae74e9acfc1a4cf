package git

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/logfields"
)

// CheckoutRequest describes a clean checkout of the source repository.
type CheckoutRequest struct {
	URL      string
	Branch   string // primary branch, used when Revision is empty
	Revision string // branch, tag or commit hash; empty means the branch tip
	Depth    int    // only honored when Revision is empty
	Dir      string // must not exist or be empty
}

// CheckoutResult reports what was checked out.
type CheckoutResult struct {
	Path   string
	Commit string
}

// Checkout clones the repository into req.Dir and checks out the requested revision.
func (c *Client) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	var result CheckoutResult
	err := c.withRetry(ctx, "clone", func(ctx context.Context) error {
		var err error
		result, err = c.checkoutOnce(ctx, req)
		return err
	})
	return result, err
}

func (c *Client) checkoutOnce(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	if err := os.RemoveAll(req.Dir); err != nil {
		return CheckoutResult{}, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to clear checkout directory").
			WithContext("path", req.Dir).
			Build()
	}

	opts := &git.CloneOptions{URL: req.URL, Auth: c.sourceAuth, Tags: git.AllTags}
	if req.Revision == "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(req.Branch)
		opts.SingleBranch = true
		opts.Depth = req.Depth
		opts.Tags = git.NoTags
	}

	c.logger.Debug("Cloning repository",
		logfields.URL(redactURL(req.URL)),
		logfields.Branch(req.Branch),
		logfields.Revision(req.Revision),
		logfields.Path(req.Dir))

	repo, err := git.PlainCloneContext(ctx, req.Dir, false, opts)
	if err != nil {
		return CheckoutResult{}, classify(err, ferrors.CategoryCheckout, "clone", req.URL)
	}

	if req.Revision != "" {
		hash, rerr := resolveRevision(repo, req.Revision)
		if rerr != nil {
			return CheckoutResult{}, ferrors.WrapError(rerr, ferrors.CategoryCheckout, "revision not found").
				WithContext("revision", req.Revision).
				Build()
		}
		wt, werr := repo.Worktree()
		if werr != nil {
			return CheckoutResult{}, classify(werr, ferrors.CategoryCheckout, "checkout", req.URL)
		}
		if cerr := wt.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); cerr != nil {
			return CheckoutResult{}, classify(cerr, ferrors.CategoryCheckout, "checkout", req.URL)
		}
	}

	head, err := repo.Head()
	if err != nil {
		return CheckoutResult{}, classify(err, ferrors.CategoryCheckout, "head", req.URL)
	}

	c.logger.Info("Repository checked out",
		logfields.URL(redactURL(req.URL)),
		logfields.Commit(head.Hash().String()),
		logfields.Path(req.Dir))
	return CheckoutResult{Path: req.Dir, Commit: head.Hash().String()}, nil
}

// resolveRevision accepts commit hashes, remote branch names and tags.
func resolveRevision(repo *git.Repository, rev string) (plumbing.Hash, error) {
	candidates := []string{
		"refs/remotes/origin/" + rev,
		"refs/tags/" + rev,
		rev,
	}
	var lastErr error
	for _, candidate := range candidates {
		hash, err := repo.ResolveRevision(plumbing.Revision(candidate))
		if err == nil {
			return *hash, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("empty revision")
	}
	return plumbing.ZeroHash, lastErr
}

// RemoteHead returns the commit hash at the tip of branch on the remote.
func (c *Client) RemoteHead(ctx context.Context, url, branch string) (string, error) {
	var hash string
	err := c.withRetry(ctx, "ls-remote", func(ctx context.Context) error {
		refs, err := listRemote(ctx, url, c.sourceAuth)
		if err != nil {
			return classify(err, ferrors.CategoryNetwork, "ls-remote", url)
		}
		want := plumbing.NewBranchReferenceName(branch)
		for _, ref := range refs {
			if ref.Name() == want {
				hash = ref.Hash().String()
				return nil
			}
		}
		return ferrors.NewError(ferrors.CategoryNotFound, "branch not found on remote").
			WithContext("branch", branch).
			WithContext("url", redactURL(url)).
			Build()
	})
	if err != nil {
		return "", err
	}
	c.logger.Debug("Resolved remote head", logfields.Branch(branch), logfields.Commit(hash), slog.String("url", redactURL(url)))
	return hash, nil
}
