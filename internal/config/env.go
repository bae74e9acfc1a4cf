package config

import (
	"github.com/caarlos0/env/v11"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
)

// EnvPrefix is prepended to every environment override, e.g. DOCPUBLISHER_SOURCE_URL.
const EnvPrefix = "DOCPUBLISHER_"

// ApplyEnv overlays DOCPUBLISHER_* environment variables onto cfg. Unset
// variables leave file values alone.
func ApplyEnv(cfg *Config) error {
	return applyEnvWith(cfg, nil)
}

func applyEnvWith(cfg *Config, environment map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid environment override").Fatal().Build()
	}
	return nil
}
