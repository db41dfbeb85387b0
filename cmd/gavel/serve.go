package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/gavel/internal/caselog"
	"github.com/zulandar/gavel/internal/config"
	"github.com/zulandar/gavel/internal/dashboard"
	"github.com/zulandar/gavel/internal/db"
	"github.com/zulandar/gavel/internal/hearing"
	"github.com/zulandar/gavel/internal/platform"
	discordadapter "github.com/zulandar/gavel/internal/platform/discord"
	slackadapter "github.com/zulandar/gavel/internal/platform/slack"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Gavel daemon",
		Long:  "Connects to the configured chat platform, watches the origin channels for dispute triggers, and serves the dashboard if enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gavel.yaml", "path to Gavel config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client, err := createClient(cfg)
	if err != nil {
		return err
	}

	gormDB, err := db.Connect(cfg.CaseLog)
	if err != nil {
		return fmt.Errorf("connect case log: %w", err)
	}
	if err := db.Migrate(gormDB); err != nil {
		return fmt.Errorf("migrate case log: %w", err)
	}

	clog, err := caselog.New(gormDB)
	if err != nil {
		return err
	}
	recorders := hearing.MultiRecorder{clog}

	var hub *dashboard.Hub
	if cfg.Dashboard.Enabled {
		hub = dashboard.NewHub()
		recorders = append(recorders, hub)
	}

	daemon, err := hearing.NewDaemon(hearing.DaemonOpts{
		Config:   cfg,
		Client:   client,
		Recorder: recorders,
		Out:      cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if cfg.Dashboard.Enabled {
		go func() {
			err := dashboard.Start(ctx, dashboard.StartOpts{
				Store: daemon.Store(),
				DB:    gormDB,
				Hub:   hub,
				Port:  cfg.Dashboard.Port,
				Out:   cmd.OutOrStdout(),
			})
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "dashboard: %v\n", err)
			}
		}()
	}

	if cfg.Reminder.Enabled {
		reminder, err := hearing.NewReminder(hearing.ReminderOpts{
			Store:  daemon.Store(),
			Client: client,
			MaxAge: time.Duration(cfg.Reminder.MaxAgeHours) * time.Hour,
			Out:    cmd.OutOrStdout(),
		})
		if err != nil {
			return err
		}
		if err := reminder.Start(ctx, cfg.Reminder.Cron); err != nil {
			return err
		}
	}

	return daemon.Run(ctx)
}

// createClient builds a platform client from the config.
func createClient(cfg *config.Config) (platform.Client, error) {
	switch cfg.Platform {
	case "discord":
		return discordadapter.New(discordadapter.ClientOpts{
			BotToken: cfg.Discord.Token,
		})
	case "slack":
		return slackadapter.New(slackadapter.ClientOpts{
			AppToken: cfg.Slack.AppToken,
			BotToken: cfg.Slack.BotToken,
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q (use discord or slack)", cfg.Platform)
	}
}
