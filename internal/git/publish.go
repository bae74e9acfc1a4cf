package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage/filesystem"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/logfields"
)

// rootIndex is the redirect page; exclusion never applies to it.
const rootIndex = "index.html"

// PublishRequest describes a hosting branch replacement.
type PublishRequest struct {
	SiteDir     string // tree to publish; becomes the branch root
	RepoDir     string // scratch directory for the throwaway repository
	RemoteURL   string
	Branch      string
	Message     string
	AuthorName  string
	AuthorEmail string
	Exclude     func(rel string) bool // optional; rel uses forward slashes
	DryRun      bool                  // build the commit but do not push
}

// PublishResult reports the commit that was (or would have been) pushed.
type PublishResult struct {
	Commit string
	Tree   string
	Files  int
	Pushed bool
}

// PublishTree commits the whole of req.SiteDir as the only content of
// req.Branch and force-pushes it. The commit has no parent, so nothing from
// a previous publish survives.
func (c *Client) PublishTree(ctx context.Context, req PublishRequest) (PublishResult, error) {
	if req.Branch == "" {
		return PublishResult{}, ferrors.ValidationError("publish branch is required").Build()
	}
	if info, err := os.Stat(req.SiteDir); err != nil || !info.IsDir() {
		return PublishResult{}, ferrors.NewError(ferrors.CategoryPublish, "site directory does not exist").
			WithContext("path", req.SiteDir).
			Build()
	}

	if err := os.RemoveAll(req.RepoDir); err != nil {
		return PublishResult{}, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to clear publish repository").Build()
	}
	st := filesystem.NewStorage(osfs.New(req.RepoDir), cache.NewObjectLRUDefault())
	repo, err := git.Init(st, nil)
	if err != nil {
		return PublishResult{}, classify(err, ferrors.CategoryPublish, "init", req.RepoDir)
	}

	tb := &treeBuilder{store: st, exclude: req.Exclude}
	treeHash, err := tb.build(ctx, req.SiteDir)
	if err != nil {
		return PublishResult{}, err
	}

	now := time.Now()
	sig := object.Signature{Name: req.AuthorName, Email: req.AuthorEmail, When: now}
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   req.Message,
		TreeHash:  treeHash,
	}
	commitHash, err := storeObject(st, commit)
	if err != nil {
		return PublishResult{}, ferrors.WrapError(err, ferrors.CategoryPublish, "failed to write commit").Build()
	}

	branchRef := plumbing.NewBranchReferenceName(req.Branch)
	if err := st.SetReference(plumbing.NewHashReference(branchRef, commitHash)); err != nil {
		return PublishResult{}, ferrors.WrapError(err, ferrors.CategoryPublish, "failed to set branch reference").Build()
	}

	result := PublishResult{Commit: commitHash.String(), Tree: treeHash.String(), Files: tb.files}
	if req.DryRun {
		c.logger.Info("Dry run: hosting branch not pushed",
			logfields.Branch(req.Branch),
			logfields.Commit(result.Commit),
			slog.Int("files", tb.files))
		return result, nil
	}

	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{req.RemoteURL}}); err != nil {
		return PublishResult{}, classify(err, ferrors.CategoryPublish, "remote", req.RemoteURL)
	}
	refSpec := gitconfig.RefSpec(fmt.Sprintf("+%s:%s", branchRef, branchRef))
	err = c.withRetry(ctx, "push", func(ctx context.Context) error {
		perr := repo.PushContext(ctx, &git.PushOptions{
			RemoteName: "origin",
			RefSpecs:   []gitconfig.RefSpec{refSpec},
			Auth:       c.publishAuth,
			Force:      true,
		})
		if perr != nil && !errors.Is(perr, git.NoErrAlreadyUpToDate) {
			return classify(perr, ferrors.CategoryPublish, "push", req.RemoteURL)
		}
		return nil
	})
	if err != nil {
		return PublishResult{}, err
	}

	result.Pushed = true
	c.logger.Info("Hosting branch published",
		logfields.Branch(req.Branch),
		logfields.Commit(result.Commit),
		logfields.URL(redactURL(req.RemoteURL)),
		slog.Int("files", tb.files))
	return result, nil
}

// treeBuilder hashes a directory into git tree objects.
type treeBuilder struct {
	store   storer.EncodedObjectStorer
	exclude func(rel string) bool
	files   int
}

func (b *treeBuilder) build(ctx context.Context, root string) (plumbing.Hash, error) {
	hash, _, err := b.buildDir(ctx, root, "")
	return hash, err
}

// buildDir returns the tree hash and whether the tree has any entries.
func (b *treeBuilder) buildDir(ctx context.Context, root, rel string) (plumbing.Hash, bool, error) {
	if err := ctx.Err(); err != nil {
		return plumbing.ZeroHash, false, ferrors.WrapError(err, ferrors.CategoryCanceled, "publish canceled").Build()
	}
	entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return plumbing.ZeroHash, false, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read site directory").
			WithContext("path", rel).
			Build()
	}

	tree := &object.Tree{}
	for _, entry := range entries {
		childRel := path.Join(rel, entry.Name())
		if rel == "" && entry.Name() == ".git" {
			continue
		}
		if b.exclude != nil && childRel != rootIndex && b.exclude(childRel) {
			continue
		}

		switch {
		case entry.IsDir():
			hash, nonEmpty, err := b.buildDir(ctx, root, childRel)
			if err != nil {
				return plumbing.ZeroHash, false, err
			}
			if nonEmpty {
				tree.Entries = append(tree.Entries, object.TreeEntry{Name: entry.Name(), Mode: filemode.Dir, Hash: hash})
			}
		case entry.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(filepath.Join(root, filepath.FromSlash(childRel)))
			if err != nil {
				return plumbing.ZeroHash, false, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read symlink").Build()
			}
			hash, err := b.storeBlob(strings.NewReader(target), int64(len(target)))
			if err != nil {
				return plumbing.ZeroHash, false, err
			}
			tree.Entries = append(tree.Entries, object.TreeEntry{Name: entry.Name(), Mode: filemode.Symlink, Hash: hash})
			b.files++
		case entry.Type().IsRegular():
			hash, mode, err := b.storeFile(filepath.Join(root, filepath.FromSlash(childRel)))
			if err != nil {
				return plumbing.ZeroHash, false, err
			}
			tree.Entries = append(tree.Entries, object.TreeEntry{Name: entry.Name(), Mode: mode, Hash: hash})
			b.files++
		}
	}

	sortTreeEntries(tree.Entries)
	hash, err := storeObject(b.store, tree)
	if err != nil {
		return plumbing.ZeroHash, false, ferrors.WrapError(err, ferrors.CategoryPublish, "failed to write tree").Build()
	}
	return hash, len(tree.Entries) > 0, nil
}

func (b *treeBuilder) storeFile(full string) (plumbing.Hash, filemode.FileMode, error) {
	f, err := os.Open(full)
	if err != nil {
		return plumbing.ZeroHash, 0, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to open site file").
			WithContext("path", full).
			Build()
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return plumbing.ZeroHash, 0, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to stat site file").Build()
	}
	mode := filemode.Regular
	if info.Mode()&0o111 != 0 {
		mode = filemode.Executable
	}
	hash, err := b.storeBlob(f, info.Size())
	return hash, mode, err
}

func (b *treeBuilder) storeBlob(r io.Reader, size int64) (plumbing.Hash, error) {
	obj := b.store.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(size)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, ferrors.WrapError(err, ferrors.CategoryPublish, "failed to open blob writer").Build()
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to hash site file").Build()
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, ferrors.WrapError(err, ferrors.CategoryPublish, "failed to close blob writer").Build()
	}
	hash, err := b.store.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, ferrors.WrapError(err, ferrors.CategoryPublish, "failed to store blob").Build()
	}
	return hash, nil
}

type encodable interface {
	Encode(plumbing.EncodedObject) error
}

func storeObject(s storer.EncodedObjectStorer, o encodable) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	if err := o.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

// sortTreeEntries orders entries the way git does: directories compare as if
// their name had a trailing slash.
func sortTreeEntries(entries []object.TreeEntry) {
	key := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(entries, func(i, j int) bool { return key(entries[i]) < key(entries[j]) })
}
