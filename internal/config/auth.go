package config

// AuthType enumerates supported authentication methods for the source remote.
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeSSH   AuthType = "ssh"
	AuthTypeToken AuthType = "token"
	AuthTypeBasic AuthType = "basic"
)

// AuthConfig represents authentication configuration.
type AuthConfig struct {
	Type     AuthType `yaml:"type"` // ssh|token|basic|none
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Token    string   `yaml:"token,omitempty"`
	TokenEnv string   `yaml:"token_env,omitempty"` // read the token from this variable at use time
	KeyPath  string   `yaml:"key_path,omitempty"`
}

// IsZero reports whether no auth method specified.
func (a *AuthConfig) IsZero() bool { return a == nil || a.Type == "" || a.Type == AuthTypeNone }

// ResolvedToken returns the literal token, falling back to TokenEnv.
func (a *AuthConfig) ResolvedToken(getenv func(string) string) string {
	if a == nil {
		return ""
	}
	if a.Token != "" {
		return a.Token
	}
	if a.TokenEnv != "" && getenv != nil {
		return getenv(a.TokenEnv)
	}
	return ""
}
