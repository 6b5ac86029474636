package auth

import (
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// Config holds bridge options
type Config interface {
	GetOrigin() string
	GetLandingRoute() string
	GetRPCTimeout() time.Duration
}

// Settings is the environment backed configuration of a portal process
type Settings struct {
	// Origin is the public base URL of the portal, used in reset links
	Origin       string        `env:"PORTAL_ORIGIN" envDefault:"http://localhost:5173"`
	LandingRoute string        `env:"PORTAL_LANDING_ROUTE" envDefault:"/"`
	RPCTimeout   time.Duration `env:"PORTAL_RPC_TIMEOUT" envDefault:"10s"`

	BackendURL     string `env:"PORTAL_BACKEND_URL"`
	BackendAnonKey string `env:"PORTAL_BACKEND_ANON_KEY"`

	DatabaseDSN string `env:"PORTAL_DATABASE_DSN" envDefault:"file:portal.db?cache=shared"`
	HTTPAddr    string `env:"PORTAL_HTTP_ADDR" envDefault:":8080"`

	SigningKey      string `env:"PORTAL_SIGNING_KEY"`
	TokenExpiration int    `env:"PORTAL_TOKEN_EXPIRATION" envDefault:"24"`
	Issuer          string `env:"PORTAL_ISSUER" envDefault:"go-member-auth"`
}

var _ Config = Settings{}

// MinSigningKeyLength is the shortest accepted session signing key
const MinSigningKeyLength = 32

// ErrWeakSigningKey is returned when the session signing key is missing or too short
var ErrWeakSigningKey = goerrors.New("PORTAL_SIGNING_KEY must be set to a secret of at least 32 characters", goerrors.CategoryBadInput).
	WithTextCode("WEAK_SIGNING_KEY")

// ValidateSigningKey rejects keys that are empty or shorter than
// MinSigningKeyLength
func ValidateSigningKey(key string) error {
	if len(key) < MinSigningKeyLength {
		return ErrWeakSigningKey
	}
	return nil
}

// LoadSettings reads Settings from the environment
func LoadSettings() (Settings, error) {
	var cfg Settings
	if err := env.Parse(&cfg); err != nil {
		return Settings{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse environment configuration")
	}
	return cfg, nil
}

func (s Settings) GetOrigin() string {
	return s.Origin
}

func (s Settings) GetLandingRoute() string {
	if s.LandingRoute == "" {
		return "/"
	}
	return s.LandingRoute
}

func (s Settings) GetRPCTimeout() time.Duration {
	if s.RPCTimeout <= 0 {
		return DefaultRPCTimeout
	}
	return s.RPCTimeout
}

func (s Settings) GetSigningKey() string {
	return s.SigningKey
}

// ValidateSigningKey checks the configured signing key
func (s Settings) ValidateSigningKey() error {
	return ValidateSigningKey(s.SigningKey)
}

func (s Settings) GetTokenExpiration() int {
	return s.TokenExpiration
}

func (s Settings) GetIssuer() string {
	return s.Issuer
}
