package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"todoassist/internal/app"
	"todoassist/internal/directive"
	"todoassist/internal/domain"
	"todoassist/internal/notify"
	"todoassist/internal/server"
)

func notifyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "notify", Short: "Daily task digest"}
	cmd.AddCommand(notifySendCmd())
	cmd.AddCommand(notifyPreviewCmd())
	return cmd
}

func notifySendCmd() *cobra.Command {
	var test bool
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send today's digest now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if client := remoteClient(); client != nil {
				send := client.NotifyDaily
				if test {
					send = client.NotifyTest
				}
				res, err := send(cmd.Context())
				if err != nil {
					return err
				}
				if !res.Sent {
					return fmt.Errorf("%s: %s", res.Sender, res.Error)
				}
				fmt.Printf("sent via %s\n", res.Sender)
				return nil
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sched, err := a.Scheduler()
				if err != nil {
					return err
				}
				send := sched.SendDaily
				if test {
					send = sched.SendTest
				}
				if _, err := send(ctx); err != nil {
					return err
				}
				fmt.Printf("sent via %s\n", sched.Sender.Name())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&test, "test", false, "send a test message instead of the digest")
	return cmd
}

func notifyPreviewCmd() *cobra.Command {
	var day string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the digest without sending it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				loc, err := a.Config.Notify.Location()
				if err != nil {
					return err
				}
				d := domain.DateOf(time.Now().In(loc))
				if day != "" {
					if d, err = directive.ParseDate(day); err != nil {
						return err
					}
				}
				agenda, err := a.Engine.Agenda(ctx, d)
				if err != nil {
					return err
				}
				fmt.Println(notify.BuildDailyMessage(agenda))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "day to preview (default today)")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every task change is recorded; changes made while applying one assistant reply share a run id.",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var runID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.LatestEvents(ctx, n, runID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Task", "Run", "Payload"})
				for _, evt := range events {
					entity := ""
					if evt.EntityID != nil {
						entity = strconv.FormatInt(*evt.EntityID, 10)
					}
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, entity, evt.RunID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&runID, "run", "", "only events of this run id")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with server.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := server.IssueToken(cfg.Server.JWTSecret, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "lifetime; 0 for no expiry")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and the daily notifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if cmd.Flags().Changed("addr") {
					cfg.Server.Addr = addr
				}
				if cmd.Flags().Changed("base-path") {
					cfg.Server.BasePath = basePath
				}
				loc, err := cfg.Notify.Location()
				if err != nil {
					return err
				}
				sched, err := a.Scheduler()
				if err != nil {
					return err
				}
				if cfg.Server.JWTSecret == "" {
					a.Log.Warn().Msg("server.jwt_secret is empty; the API accepts unauthenticated requests")
				}
				handler, err := server.New(server.Config{
					Engine:           a.Engine,
					BasePath:         cfg.Server.BasePath,
					Auth:             server.AuthConfig{JWTSecret: cfg.Server.JWTSecret, Log: a.Log},
					Assistant:        a.Assistant(),
					AssistantTimeout: cfg.Assistant.Timeout,
					Notifier:         sched,
					NotifyEnabled:    cfg.Notify.Enabled,
					Location:         loc,
					Log:              a.Log,
				})
				if err != nil {
					return err
				}
				if cfg.Notify.Enabled {
					go func() {
						if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
							a.Log.Error().Err(err).Msg("notifier stopped")
						}
					}()
				}
				srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info().
					Str("addr", cfg.Server.Addr).
					Str("base_path", cfg.Server.BasePath).
					Bool("notify", cfg.Notify.Enabled).
					Msg("serving todoassist API (OpenAPI at openapi.json, Swagger UI at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (overrides server.base_path)")
	return cmd
}
