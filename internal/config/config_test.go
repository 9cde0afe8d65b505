package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("LEARN_DB_DRIVER", "sqlite3")
	t.Setenv("LEARN_DB_DSN", "file:learnhub.db")
	t.Setenv("LEARN_OIDC_ISSUER", "https://id.example.com")
	t.Setenv("LEARN_OIDC_CLIENT_ID", "learnhub")
	t.Setenv("LEARN_OIDC_CLIENT_SECRET", "s3cret")
	t.Setenv("LEARN_OIDC_REDIRECT_URL", "https://learn.example.com/auth/callback")
	t.Setenv("LEARN_AUTH_FLOW_SECRET", strings.Repeat("f", 32))
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, ProviderSession, cfg.Auth.Provider)
	assert.Equal(t, "learnhub_session", cfg.Auth.CookieName)
	assert.Equal(t, 3*time.Second, cfg.Auth.ProviderTimeout)
	assert.Equal(t, 720*time.Hour, cfg.SessionLifetime)
	assert.Equal(t, "/login", cfg.Routes.LoginPath)
	assert.Equal(t, "/dashboard", cfg.Routes.HomePath)
	assert.Contains(t, cfg.Routes.Protected, "/learn")
	assert.Contains(t, cfg.Routes.Protected, "/interview")
	assert.Contains(t, cfg.Routes.Exempt, "/api")
	assert.False(t, cfg.HTTP.InsecureCookies)
}

func TestLoad_RouteListsFromEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("LEARN_ROUTES_PROTECTED", "/dashboard /billing")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"/dashboard", "/billing"}, cfg.Routes.Protected)
}

func TestLoad_JWTRequiresSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("LEARN_AUTH_PROVIDER", "jwt")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEARN_AUTH_JWT_SECRET")

	t.Setenv("LEARN_AUTH_JWT_SECRET", strings.Repeat("k", 32))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderJWT, cfg.Auth.Provider)
}

func TestLoad_UnknownProvider(t *testing.T) {
	setRequired(t)
	t.Setenv("LEARN_AUTH_PROVIDER", "firebase")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported auth provider")
}

func TestLoad_MissingDriver(t *testing.T) {
	setRequired(t)
	t.Setenv("LEARN_DB_DRIVER", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEARN_DB_DRIVER")
}

func TestLoad_BadTimeout(t *testing.T) {
	setRequired(t)
	t.Setenv("LEARN_AUTH_PROVIDER_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadUnchecked_SkipsValidation(t *testing.T) {
	t.Setenv("LEARN_DB_DRIVER", "")
	t.Setenv("LEARN_ROUTES_PUBLIC", "/ /pricing")

	cfg, err := LoadUnchecked()
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/pricing"}, cfg.Routes.Public)
	assert.Error(t, cfg.Validate())
}
