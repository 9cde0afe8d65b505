package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported session provider backends.
const (
	ProviderSession = "session"
	ProviderJWT     = "jwt"
)

var (
	defaultPublic    = []string{"/", "/login", "/signup"}
	defaultProtected = []string{"/dashboard", "/courses", "/learn", "/interview", "/system-design", "/profile", "/admin"}
	defaultExempt    = []string{"/static", "/images", "/favicon.ico", "/api", "/metrics"}
)

type Config struct {
	HTTP struct {
		Addr            string
		InsecureCookies bool
	}
	DB struct {
		Driver string
		DSN    string
	}
	OIDC struct {
		Issuer       string
		ClientID     string
		ClientSecret string
		RedirectURL  string
	}
	Auth struct {
		Provider        string
		CookieName      string
		ProviderTimeout time.Duration
		JWTSecret       string
		JWTIssuer       string
		FlowSecret      string
	}
	Routes struct {
		Public    []string
		Protected []string
		Exempt    []string
		LoginPath string
		HomePath  string
	}
	Redis struct {
		URL string
	}
	AdminEmail      string
	SessionLifetime time.Duration
	LogLevel        string
}

// Load reads config from environment (LEARN_ prefix) and optional learnhub.yaml.
// List values given through the environment are space separated.
func Load() (*Config, error) {
	cfg, err := LoadUnchecked()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnchecked reads configuration like Load but skips Validate, for
// commands that only need part of it (e.g. printing the route table).
func LoadUnchecked() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEARN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigName("learnhub")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional config file

	setDefaults(v)
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.insecure_cookies", false)
	v.SetDefault("session.lifetime", "720h")
	v.SetDefault("auth.provider", ProviderSession)
	v.SetDefault("auth.cookie_name", "learnhub_session")
	v.SetDefault("auth.provider_timeout", "3s")
	v.SetDefault("auth.jwt_issuer", "learnhub")
	v.SetDefault("routes.public", defaultPublic)
	v.SetDefault("routes.protected", defaultProtected)
	v.SetDefault("routes.exempt", defaultExempt)
	v.SetDefault("routes.login_path", "/login")
	v.SetDefault("routes.home_path", "/dashboard")
	v.SetDefault("log.level", "info")
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Addr = v.GetString("http.addr")
	cfg.HTTP.InsecureCookies = v.GetBool("http.insecure_cookies")
	cfg.DB.Driver = v.GetString("db.driver")
	cfg.DB.DSN = v.GetString("db.dsn")
	cfg.OIDC.Issuer = v.GetString("oidc.issuer")
	cfg.OIDC.ClientID = v.GetString("oidc.client_id")
	cfg.OIDC.ClientSecret = v.GetString("oidc.client_secret")
	cfg.OIDC.RedirectURL = v.GetString("oidc.redirect_url")
	cfg.Auth.Provider = strings.ToLower(v.GetString("auth.provider"))
	cfg.Auth.CookieName = v.GetString("auth.cookie_name")
	cfg.Auth.JWTSecret = v.GetString("auth.jwt_secret")
	cfg.Auth.JWTIssuer = v.GetString("auth.jwt_issuer")
	cfg.Auth.FlowSecret = v.GetString("auth.flow_secret")
	cfg.Routes.Public = v.GetStringSlice("routes.public")
	cfg.Routes.Protected = v.GetStringSlice("routes.protected")
	cfg.Routes.Exempt = v.GetStringSlice("routes.exempt")
	cfg.Routes.LoginPath = v.GetString("routes.login_path")
	cfg.Routes.HomePath = v.GetString("routes.home_path")
	cfg.Redis.URL = v.GetString("redis.url")
	cfg.AdminEmail = v.GetString("admin_email")
	cfg.LogLevel = v.GetString("log.level")

	lifetime, err := time.ParseDuration(v.GetString("session.lifetime"))
	if err != nil {
		return nil, fmt.Errorf("invalid LEARN_SESSION_LIFETIME: %w", err)
	}
	cfg.SessionLifetime = lifetime

	timeout, err := time.ParseDuration(v.GetString("auth.provider_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid LEARN_AUTH_PROVIDER_TIMEOUT: %w", err)
	}
	cfg.Auth.ProviderTimeout = timeout
	return cfg, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.DB.Driver == "" {
		return fmt.Errorf("LEARN_DB_DRIVER is required (sqlite3, mysql, postgres)")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("LEARN_DB_DSN is required")
	}
	if c.OIDC.Issuer == "" {
		return fmt.Errorf("LEARN_OIDC_ISSUER is required")
	}
	if c.OIDC.ClientID == "" {
		return fmt.Errorf("LEARN_OIDC_CLIENT_ID is required")
	}
	if c.OIDC.ClientSecret == "" {
		return fmt.Errorf("LEARN_OIDC_CLIENT_SECRET is required")
	}
	if c.OIDC.RedirectURL == "" {
		return fmt.Errorf("LEARN_OIDC_REDIRECT_URL is required")
	}
	if len(c.Auth.FlowSecret) < 32 {
		return fmt.Errorf("LEARN_AUTH_FLOW_SECRET must be at least 32 bytes")
	}
	switch c.Auth.Provider {
	case ProviderSession:
	case ProviderJWT:
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("LEARN_AUTH_JWT_SECRET must be at least 32 bytes when auth.provider is %q", ProviderJWT)
		}
	default:
		return fmt.Errorf("unsupported auth provider %q: must be %s or %s", c.Auth.Provider, ProviderSession, ProviderJWT)
	}
	if c.Auth.ProviderTimeout <= 0 {
		return fmt.Errorf("LEARN_AUTH_PROVIDER_TIMEOUT must be positive")
	}
	if c.Auth.CookieName == "" {
		return fmt.Errorf("LEARN_AUTH_COOKIE_NAME must not be empty")
	}
	return nil
}
