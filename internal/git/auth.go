package git

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"git.home.luguber.info/inful/docpublisher/internal/config"
	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
)

// tokenUsername is accepted by GitHub, Forgejo and GitLab for token auth over HTTPS.
const tokenUsername = "x-access-token"

// AuthMethod returns a go-git AuthMethod for the source repository.
// A nil config or type none yields nil (anonymous).
func AuthMethod(authCfg *config.AuthConfig) (transport.AuthMethod, error) {
	if authCfg.IsZero() {
		return nil, nil
	}
	switch authCfg.Type {
	case config.AuthTypeToken:
		token := authCfg.ResolvedToken(os.Getenv)
		if token == "" {
			return nil, ferrors.AuthError("token authentication requires a token").
				WithContext("token_env", authCfg.TokenEnv).
				Build()
		}
		username := authCfg.Username
		if username == "" {
			username = tokenUsername
		}
		return &http.BasicAuth{Username: username, Password: token}, nil
	case config.AuthTypeBasic:
		if authCfg.Username == "" || authCfg.Password == "" {
			return nil, ferrors.AuthError("basic authentication requires username and password").Build()
		}
		return &http.BasicAuth{Username: authCfg.Username, Password: authCfg.Password}, nil
	case config.AuthTypeSSH:
		keyPath := authCfg.KeyPath
		if keyPath == "" {
			keyPath = filepath.Join(os.Getenv("HOME"), ".ssh", "id_rsa")
		}
		keys, err := ssh.NewPublicKeysFromFile("git", keyPath, authCfg.Password)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryAuth, "failed to load SSH key").
				WithContext("key_path", keyPath).
				UserAction().
				Build()
		}
		return keys, nil
	default:
		return nil, ferrors.ConfigError(fmt.Sprintf("unsupported auth type: %s", authCfg.Type)).Build()
	}
}

// TokenAuth returns HTTPS basic auth carrying an access token, or nil when token is empty.
func TokenAuth(username, token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	if username == "" {
		username = tokenUsername
	}
	return &http.BasicAuth{Username: username, Password: token}
}
