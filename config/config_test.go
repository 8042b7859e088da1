package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbolis/sensing-survey/model"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse("survey", []string{"-token-secret", "s3cret"})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:80", cfg.Addr)
	assert.Equal(t, "http://localhost:80", cfg.Url())
	assert.Equal(t, "survey.sqlite", cfg.DBUrl)
	assert.Equal(t, 120*time.Second, cfg.TokenTTL)
	assert.Equal(t, model.PrivacyPrivate, cfg.DefaultPrivacy)
	assert.Equal(t, int64(32<<20), cfg.MaxUploadBytes)
	assert.False(t, cfg.Debug)
}

func TestParseEnvironmentThenFlags(t *testing.T) {
	t.Setenv("SURVEY_PORT", "8080")
	t.Setenv("SURVEY_TOKEN_SECRET", "from-env")
	t.Setenv("SURVEY_DEFAULT_PRIVACY", "shared")
	t.Setenv("SURVEY_DEBUG", "true")

	cfg, err := Parse("survey", []string{"-host", "127.0.0.1", "-token-ttl", "60"})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Addr)
	assert.Equal(t, "from-env", cfg.TokenSecret)
	assert.Equal(t, time.Minute, cfg.TokenTTL)
	assert.Equal(t, model.PrivacyShared, cfg.DefaultPrivacy)
	assert.True(t, cfg.Debug)

	cfg, err = Parse("survey", []string{"-port", "9000"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("survey", nil)
	assert.EqualError(t, err, "missing parameter -token-secret")

	_, err = Parse("survey", []string{"-token-secret", "x", "-default-privacy", "public"})
	assert.Error(t, err)

	_, err = Parse("survey", []string{"-token-secret", "x", "-bootstrap-admin", "root"})
	assert.Error(t, err)
}

func TestBootstrap(t *testing.T) {
	user, pass, ok := Config{BootstrapAdmin: "root:pa:ss"}.Bootstrap()

	assert.True(t, ok)
	assert.Equal(t, "root", user)
	assert.Equal(t, "pa:ss", pass)
}
