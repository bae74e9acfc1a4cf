package config

import (
	"errors"
	"io/fs"
	"os"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
)

// ExampleConfig is written by Init.
const ExampleConfig = `# docpublisher configuration
source:
  url: https://github.com/example/nominae.git
  branch: master

generator:
  command: ["cargo", "doc", "--verbose"]
  output_dir: target/doc
  # timeout: 20m

redirect:
  target: nominae

publish:
  branch: gh-pages
  token_env: ACCESS_TOKEN
  exclude:
    - ".lock"

trigger:
  branch: master
  webhook_secret: "${DOCPUBLISHER_WEBHOOK_SECRET}"
  # poll_interval: 5m

concurrency:
  cancel_superseded: true

daemon:
  listen_addr: ":8080"
  data_dir: ./data

monitoring:
  log_level: info
`

// Init writes an example configuration file. Existing files are kept unless force is set.
func Init(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return ferrors.ValidationError("configuration file already exists (use --force to overwrite)").
				WithContext("path", path).
				Build()
		} else if !errors.Is(err, fs.ErrNotExist) {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to stat config file").Build()
		}
	}
	if err := os.WriteFile(path, []byte(ExampleConfig), 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write config file").
			WithContext("path", path).
			Build()
	}
	return nil
}
