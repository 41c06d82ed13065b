package app

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todoassist/internal/config"
	"todoassist/internal/notify"
)

func TestOpenBuildsServices(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Workspace = t.TempDir()

	a, err := Open(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Assistant())
	assert.IsType(t, notify.LogSender{}, a.Sender())

	cfg.Assistant.APIKey = "sk-test"
	cfg.Notify.Line.ChannelAccessToken = "token"
	cfg.Notify.Line.UserID = "U1"
	assert.NotNil(t, a.Assistant())
	assert.IsType(t, &notify.LINE{}, a.Sender())

	s, err := a.Scheduler()
	require.NoError(t, err)
	assert.Equal(t, 8, s.Hour)
	assert.Equal(t, "Asia/Tokyo", s.Location.String())
}

func TestOpenRejectsPostgresWithoutDSN(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "postgres"
	_, err := Open(cfg, zerolog.Nop())
	assert.Error(t, err)
}
