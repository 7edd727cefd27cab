package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/KafClaw/clibridge/internal/bus"
	"github.com/KafClaw/clibridge/internal/channels"
	"github.com/KafClaw/clibridge/internal/pipeline"
)

var slackCmd = &cobra.Command{
	Use:   "slack",
	Short: "Run the Slack bot (Socket Mode)",
	RunE:  runSlack,
}

var teamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "Run the Microsoft Teams bot (Graph polling)",
	RunE:  runTeams,
}

var teamsWebhookCmd = &cobra.Command{
	Use:   "teams-webhook",
	Short: "Serve a Microsoft Teams outgoing webhook",
	RunE:  runTeamsWebhook,
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runSlack(cmd *cobra.Command, _ []string) error {
	cfg, logger, closeLog, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer closeLog()
	if err := cfg.ValidateSlack(); err != nil {
		return err
	}

	rt, err := newBotRuntime(cfg, logger, botOptions{Model: cfg.Claude.Model, Thinking: true, Sandbox: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signalContext(cmd)
	defer stop()
	if err := rt.startupCheck(ctx); err != nil {
		return err
	}

	sl, err := channels.NewSlack(cfg.Slack, rt.bus, nil, logger)
	if err != nil {
		return err
	}
	if err := sl.Connect(ctx); err != nil {
		return err
	}
	return rt.serve(ctx, sl, map[string]pipeline.Replier{bus.PlatformSlack: sl})
}

func runTeams(cmd *cobra.Command, _ []string) error {
	cfg, logger, closeLog, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer closeLog()
	if err := cfg.ValidateTeams(); err != nil {
		return err
	}

	rt, err := newBotRuntime(cfg, logger, botOptions{Model: cfg.TeamsModel()})
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signalContext(cmd)
	defer stop()
	if err := rt.startupCheck(ctx); err != nil {
		return err
	}

	tm := channels.NewTeams(channels.TeamsOptions{
		Config: cfg.Teams,
		Bus:    rt.bus,
		Seen:   rt.seen,
		Logger: logger,
	})
	return rt.serve(ctx, tm, map[string]pipeline.Replier{bus.PlatformTeams: tm})
}

func runTeamsWebhook(cmd *cobra.Command, _ []string) error {
	cfg, logger, closeLog, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer closeLog()
	if cfg.Teams.WebhookSecret == "" {
		logger.Warn("TEAMS_WEBHOOK_SECRET is not set; requests are accepted without HMAC validation")
	}

	rt, err := newBotRuntime(cfg, logger, botOptions{Model: cfg.TeamsModel()})
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signalContext(cmd)
	defer stop()
	if err := rt.startupCheck(ctx); err != nil {
		return err
	}

	wh := channels.NewTeamsWebhook(channels.TeamsWebhookOptions{
		Addr:        cfg.Teams.WebhookAddr,
		Secret:      cfg.Teams.WebhookSecret,
		MentionName: cfg.Teams.MentionName,
		Wait:        cfg.Claude.Timeout() + 30*time.Second,
		Bus:         rt.bus,
		Logger:      logger,
	})
	return rt.serve(ctx, wh, map[string]pipeline.Replier{bus.PlatformTeamsWebhook: wh.Replier()})
}
