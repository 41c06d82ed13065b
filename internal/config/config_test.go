package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8, cfg.Notify.Hour)
	assert.Equal(t, "Asia/Tokyo", cfg.Notify.Timezone)
	assert.Equal(t, 60*time.Second, cfg.Assistant.Timeout)
}

func TestGeneratedTemplateParses(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Notify.Enabled)
	assert.Equal(t, 60*time.Second, cfg.Assistant.Timeout)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("notify:\n  enabled: true\n  hour: 7\n  minute: 30\nassistant:\n  timeout: 5s\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Notify.Enabled)
	assert.Equal(t, 7, cfg.Notify.Hour)
	assert.Equal(t, 30, cfg.Notify.Minute)
	assert.Equal(t, "Asia/Tokyo", cfg.Notify.Timezone)
	assert.Equal(t, 5*time.Second, cfg.Assistant.Timeout)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TODOASSIST_OPENAI_API_KEY", "sk-test")
	t.Setenv("TODOASSIST_LINE_CHANNEL_ACCESS_TOKEN", "line-token")
	t.Setenv("TODOASSIST_LINE_USER_ID", "U123")
	t.Setenv("TODOASSIST_JWT_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Assistant.APIKey)
	assert.Equal(t, "s3cret", cfg.Server.JWTSecret)
	assert.True(t, cfg.Notify.Line.Configured())
}

func TestValidateCollectsFieldErrors(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "postgres"
	cfg.Notify.Hour = 24
	cfg.Notify.Timezone = "Mars/Olympus"
	cfg.Log.Level = "loud"
	cfg.Server.BasePath = "api"

	err := cfg.Validate()
	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"database.dsn", "server.base_path", "notify.hour", "notify.timezone", "log.level"}, fields)
}

func TestFromYAMLRejectsBadDriver(t *testing.T) {
	_, err := FromYAML([]byte("database:\n  driver: oracle\n"))
	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Equal(t, "database.driver", fieldErrs[0].Field)
}
