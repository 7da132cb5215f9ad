// Package config loads process configuration from the environment once at startup.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is passed explicitly to every component; nothing re-reads the environment per request.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR"    envDefault:":8080"`
	GRPCAddr    string `env:"GRPC_ADDR"    envDefault:":9090"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Cookie attributes.
	CookieDomain string `env:"DOMAIN"`
	CookieSecure bool   `env:"SECURE" envDefault:"true"`

	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"3h"`

	// Public origin of the API, used to build the OAuth redirect URI.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	OAuth OAuth `envPrefix:"OAUTH_"`

	LoginRateLimit float64 `env:"LOGIN_RATE_LIMIT" envDefault:"5"`
	LoginRateBurst int     `env:"LOGIN_RATE_BURST" envDefault:"10"`

	// Exact origins allowed to make credentialed requests. Local dev
	// frontends (http://localhost:5173) must be listed too.
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Addresses or CIDRs of reverse proxies whose X-Forwarded-For is
	// trusted. Empty means the socket peer is always the client.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// OAuth configures the account linking provider.
type OAuth struct {
	ClientID     string        `env:"CLIENT_ID,unset"`
	ClientSecret string        `env:"CLIENT_SECRET,unset"`
	AuthURL      string        `env:"AUTH_URL"      envDefault:"https://twitter.com/i/oauth2/authorize"`
	TokenURL     string        `env:"TOKEN_URL"     envDefault:"https://api.twitter.com/2/oauth2/token"`
	UserInfoURL  string        `env:"USERINFO_URL"  envDefault:"https://api.twitter.com/2/users/me"`
	Scopes       []string      `env:"SCOPES"        envDefault:"tweet.read,users.read" envSeparator:","`
	CallbackPath string        `env:"CALLBACK_PATH" envDefault:"/oauth/twitter"`
	LandingPath  string        `env:"LANDING_PATH"  envDefault:"/profile"`
	AttemptTTL   time.Duration `env:"ATTEMPT_TTL"   envDefault:"10m"`
}

// Enabled reports whether account linking has client credentials.
func (o OAuth) Enabled() bool {
	return o.ClientID != ""
}

// RedirectURL joins base and the callback path. The API serves the callback
// at /oauth/twitter; set OAUTH_CALLBACK_PATH when a proxy mounts it elsewhere.
func (c Config) RedirectURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.OAuth.CallbackPath
}

// Load parses the environment.
func Load() (Config, error) {
	return Parse(env.Options{})
}

// Parse is Load with explicit options, e.g. a fixed Environment map in tests.
func Parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.OAuth.AttemptTTL <= 0 {
		errs = append(errs, errors.New("OAUTH_ATTEMPT_TTL must be positive"))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("BASE_URL %q is not an absolute URL", c.BaseURL))
	}
	if !strings.HasPrefix(c.OAuth.LandingPath, "/") {
		errs = append(errs, errors.New("OAUTH_LANDING_PATH must start with /"))
	}
	if c.OAuth.Enabled() && c.OAuth.ClientSecret == "" {
		errs = append(errs, errors.New("OAUTH_CLIENT_SECRET is required when OAUTH_CLIENT_ID is set"))
	}
	if c.LoginRateLimit < 0 || c.LoginRateBurst < 0 {
		errs = append(errs, errors.New("login rate limit must not be negative"))
	}
	for _, p := range c.TrustedProxies {
		if p = strings.TrimSpace(p); p != "" && !validProxy(p) {
			errs = append(errs, fmt.Errorf("TRUSTED_PROXIES entry %q is not an address or CIDR", p))
		}
	}
	return errors.Join(errs...)
}

func validProxy(p string) bool {
	if strings.Contains(p, "/") {
		_, err := netip.ParsePrefix(p)
		return err == nil
	}
	_, err := netip.ParseAddr(p)
	return err == nil
}
