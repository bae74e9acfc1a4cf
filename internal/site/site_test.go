package site

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
)

const nominaeRedirect = "<meta http-equiv=\"refresh\" content=\"0; url=nominae/index.html\" /> \n"

func TestRedirectPageBytes(t *testing.T) {
	assert.Equal(t, []byte(nominaeRedirect), RedirectPage("nominae"))
}

func TestWriteRedirectOverwritesGeneratedIndex(t *testing.T) {
	siteDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(siteDir, "index.html"), []byte("<html>generated crate list</html>"), 0o600))

	path, err := WriteRedirect(siteDir, "nominae")
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, nominaeRedirect, string(got))
}

func TestWriteRedirectMissingSite(t *testing.T) {
	_, err := WriteRedirect(filepath.Join(t.TempDir(), "missing"), "nominae")
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryRedirect))
}

func TestRefreshTarget(t *testing.T) {
	target, ok := RefreshTarget([]byte(nominaeRedirect))
	require.True(t, ok)
	assert.Equal(t, "nominae/index.html", target)

	target, ok = RefreshTarget([]byte(`<html><head><META HTTP-EQUIV="Refresh" CONTENT="5;URL='docs/'"></head></html>`))
	require.True(t, ok)
	assert.Equal(t, "docs/", target)

	_, ok = RefreshTarget([]byte(`<html><body>hello</body></html>`))
	assert.False(t, ok)
}

func TestVerify(t *testing.T) {
	siteDir := t.TempDir()
	_, err := WriteRedirect(siteDir, "nominae")
	require.NoError(t, err)

	issues := Verify(siteDir)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "not generated")

	require.NoError(t, os.MkdirAll(filepath.Join(siteDir, "nominae"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(siteDir, "nominae", "index.html"), []byte("docs"), 0o600))
	assert.Empty(t, Verify(siteDir))

	assert.Len(t, Verify(t.TempDir()), 1, "missing index.html is reported")
}

func TestFilter(t *testing.T) {
	f := NewFilter([]string{".lock", "*.tmp", "src/**/*.rs.html", " "})

	assert.True(t, f.Match(".lock"))
	assert.True(t, f.Match("deep/dir/.lock"))
	assert.True(t, f.Match("nominae/scratch.tmp"))
	assert.True(t, f.Match("src/nominae/lib.rs.html"))
	assert.False(t, f.Match("nominae/index.html"))
	assert.False(t, f.Match("other/lib.rs.html"))

	assert.True(t, NewFilter(nil).Empty())
	assert.False(t, (*Filter)(nil).Match("x"))
}

func TestFilterNeverExcludesRootIndex(t *testing.T) {
	f := NewFilter([]string{"*.html", "index.html", "**"})

	assert.False(t, f.Match(IndexFile))
	assert.True(t, f.Match("nominae/index.html"))
	assert.True(t, f.Match("nominae/all.html"))

	assert.True(t, ExcludesRootIndex("*.html"))
	assert.True(t, ExcludesRootIndex(" index.html "))
	assert.True(t, ExcludesRootIndex("**"))
	assert.False(t, ExcludesRootIndex(".lock"))
	assert.False(t, ExcludesRootIndex("nominae/*.html"))
}
