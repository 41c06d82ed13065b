package app

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"todoassist/internal/assistant"
	"todoassist/internal/config"
	"todoassist/internal/db"
	"todoassist/internal/engine"
	"todoassist/internal/migrate"
	"todoassist/internal/notify"
)

// App bundles the opened store with the services built on it.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Engine engine.Engine
	Log    zerolog.Logger
}

// Open connects to the configured database, applies migrations and builds the engine.
func Open(cfg *config.Config, log zerolog.Logger) (*App, error) {
	conn, err := db.Open(db.Config{
		Workspace: cfg.Database.Workspace,
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn, cfg.Database.Driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &App{
		Config: cfg,
		DB:     conn,
		Engine: engine.New(conn, cfg.Database.Driver, log),
		Log:    log,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// Assistant returns the upstream chat client, or nil when no API key is configured.
func (a *App) Assistant() assistant.Client {
	if a.Config.Assistant.APIKey == "" {
		return nil
	}
	return &assistant.OpenAI{
		BaseURL: a.Config.Assistant.BaseURL,
		APIKey:  a.Config.Assistant.APIKey,
		Model:   a.Config.Assistant.Model,
		Log:     a.Log,
	}
}

// Sender returns the LINE sender when configured and a log-only sender otherwise.
func (a *App) Sender() notify.Sender {
	line := a.Config.Notify.Line
	if line.Configured() {
		return &notify.LINE{ChannelAccessToken: line.ChannelAccessToken, To: line.UserID}
	}
	return notify.LogSender{Log: a.Log}
}

// Scheduler builds the daily notification scheduler from config.
func (a *App) Scheduler() (*notify.Scheduler, error) {
	loc, err := a.Config.Notify.Location()
	if err != nil {
		return nil, err
	}
	return &notify.Scheduler{
		Source:   a.Engine,
		Sender:   a.Sender(),
		Location: loc,
		Hour:     a.Config.Notify.Hour,
		Minute:   a.Config.Notify.Minute,
		Log:      a.Log,
	}, nil
}
