package workflow

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/docpublisher/internal/config"
)

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("source:\n  url: https://github.com/example/nominae.git\n" + extra))
	require.NoError(t, err)
	return cfg
}

func TestBuildDefaults(t *testing.T) {
	wf := Build(testConfig(t, ""))

	assert.Equal(t, []string{"master"}, wf.On.Push.Branches)
	assert.Equal(t, "pages-master", wf.Concurrency.Group)
	assert.True(t, wf.Concurrency.CancelInProgress)

	job, ok := wf.Jobs["docs"]
	require.True(t, ok)
	require.Len(t, job.Steps, 4)
	assert.Equal(t, checkoutAction, job.Steps[0].Uses)
	assert.Equal(t, "cargo doc --verbose", job.Steps[1].Run)
	assert.Equal(t,
		`echo '<meta http-equiv="refresh" content="0; url=nominae/index.html" /> ' > target/doc/index.html`,
		job.Steps[2].Run)

	deploy := job.Steps[3]
	assert.Equal(t, publishAction, deploy.Uses)
	assert.Equal(t, "gh-pages", deploy.With["branch"])
	assert.Equal(t, "target/doc", deploy.With["folder"])
	assert.Equal(t, "${{ secrets.ACCESS_TOKEN }}", deploy.With["token"])
}

func TestBuildHonorsConcurrencyOptOut(t *testing.T) {
	wf := Build(testConfig(t, "concurrency:\n  cancel_superseded: false\n"))
	assert.False(t, wf.Concurrency.CancelInProgress)
}

func TestRenderProducesParseableYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, testConfig(t, "")))

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "Docs", doc["name"])
	assert.Contains(t, doc, "on")

	concurrency, ok := doc["concurrency"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, concurrency["cancel-in-progress"])
	assert.Contains(t, buf.String(), "runs-on: ubuntu-latest")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
