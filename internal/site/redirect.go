package site

import (
	"fmt"
	"os"
	"path/filepath"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
)

// IndexFile is the site root page replaced by the redirect.
const IndexFile = "index.html"

// RedirectPage returns the exact bytes of the root landing page: a zero-delay
// meta refresh to <target>/index.html, one trailing space, one newline.
func RedirectPage(target string) []byte {
	return fmt.Appendf(nil, "<meta http-equiv=\"refresh\" content=\"0; url=%s/index.html\" /> \n", target)
}

// WriteRedirect overwrites <siteDir>/index.html with the redirect page.
func WriteRedirect(siteDir, target string) (string, error) {
	info, err := os.Stat(siteDir)
	if err != nil || !info.IsDir() {
		return "", ferrors.RedirectError("site directory does not exist").
			WithContext("path", siteDir).
			Build()
	}
	path := filepath.Join(siteDir, IndexFile)
	// #nosec G306 -- published static content is world readable
	if err := os.WriteFile(path, RedirectPage(target), 0o644); err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryRedirect, "failed to write redirect page").
			WithContext("path", path).
			Build()
	}
	return path, nil
}
