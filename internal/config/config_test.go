package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper() {
	viper.Reset()
}

func TestLoadConfigDefaults(t *testing.T) {
	resetViper()
	t.Setenv("IDENTITY_JWKS_URL", "https://issuer.example/.well-known/jwks.json")
	t.Setenv("IDENTITY_ISSUER", "https://issuer.example/")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "dxcp", cfg.App.Name)
	assert.Equal(t, 1, cfg.Policy.ConcurrentPerGroup)
}

func TestValidateRejectsMissingJWKS(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: 8080, Host: "0.0.0.0"},
		Database: DatabaseConfig{Driver: "postgres", Host: "localhost", Database: "dxcp"},
		Log:      LogConfig{Level: "info"},
		App:      AppConfig{Name: "dxcp"},
		Policy:   PolicyConfig{ConcurrentPerGroup: 1, RateLimitMax: 60},
	}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestGetDatabaseURLUsesOverride(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{URL: "postgres://explicit"}}
	assert.Equal(t, "postgres://explicit", cfg.GetDatabaseURL())
}

func TestGetDatabaseURLBuildsFromFields(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{
		Driver: "postgres", Username: "u", Password: "p", Host: "h", Port: 5432, Database: "d",
	}}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", cfg.GetDatabaseURL())
}
