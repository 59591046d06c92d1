package credentials

import (
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// EnvConfig loads engine options from the environment. All durations are
// deployment policy, not code: the defaults mirror a conservative
// production profile but every window can be tuned per install.
// A LoginGraceWindow of 0 forces confirmation before the first login.
type EnvConfig struct {
	SigningKey         string        `env:"AUTH_SIGNING_KEY,required,notEmpty"`
	Issuer             string        `env:"AUTH_ISSUER" envDefault:"issuer_name"`
	Audience           []string      `env:"AUTH_AUDIENCE" envDefault:"client"`
	AccessTokenTTL     time.Duration `env:"AUTH_ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL    time.Duration `env:"AUTH_REFRESH_TOKEN_TTL" envDefault:"336h"`
	ConfirmationWindow time.Duration `env:"AUTH_CONFIRMATION_WINDOW" envDefault:"3h"`
	ResetWindow        time.Duration `env:"AUTH_RESET_WINDOW" envDefault:"20m"`
	LoginGraceWindow   time.Duration `env:"AUTH_LOGIN_GRACE_WINDOW" envDefault:"3h"`
}

var _ Config = (*EnvConfig)(nil)

// NewEnvConfig parses configuration from environment variables.
func NewEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse credentials config")
	}
	return cfg, nil
}

func (c *EnvConfig) GetSigningKey() string { return c.SigningKey }
func (c *EnvConfig) GetIssuer() string { return c.Issuer }
func (c *EnvConfig) GetAudience() []string { return c.Audience }
func (c *EnvConfig) GetAccessTokenTTL() time.Duration { return c.AccessTokenTTL }
func (c *EnvConfig) GetRefreshTokenTTL() time.Duration { return c.RefreshTokenTTL }
func (c *EnvConfig) GetConfirmationWindow() time.Duration { return c.ConfirmationWindow }
func (c *EnvConfig) GetResetWindow() time.Duration { return c.ResetWindow }
func (c *EnvConfig) GetLoginGraceWindow() time.Duration { return c.LoginGraceWindow }
