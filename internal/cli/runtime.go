package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/clibridge/internal/access"
	"github.com/KafClaw/clibridge/internal/audit"
	"github.com/KafClaw/clibridge/internal/bus"
	"github.com/KafClaw/clibridge/internal/channels"
	"github.com/KafClaw/clibridge/internal/config"
	"github.com/KafClaw/clibridge/internal/dedupe"
	"github.com/KafClaw/clibridge/internal/executor"
	"github.com/KafClaw/clibridge/internal/format"
	"github.com/KafClaw/clibridge/internal/pipeline"
	"github.com/KafClaw/clibridge/internal/sandbox"
	"github.com/KafClaw/clibridge/internal/session"
)

// bootstrap loads the configuration and installs the process logger.
func bootstrap(cmd *cobra.Command) (*config.Config, *slog.Logger, func() error, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closeLog, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, closeLog, nil
}

type botOptions struct {
	Model    string
	Thinking bool
	Sandbox  bool
}

// botRuntime holds the components shared by every bot command.
type botRuntime struct {
	cfg     *config.Config
	logger  *slog.Logger
	runner  *executor.Runner
	bus     *bus.MessageBus
	seen    *dedupe.Set
	deps    pipeline.Deps
	closers []func() error
}

func newBotRuntime(cfg *config.Config, logger *slog.Logger, opts botOptions) (*botRuntime, error) {
	mcpCfg, err := executor.LoadMCPConfig(cfg.Claude.MCPConfigPath)
	if err != nil {
		return nil, err
	}
	runner := executor.New(executor.Options{
		Command:         cfg.Claude.Command,
		Model:           opts.Model,
		AllowedTools:    cfg.Claude.AllowedTools,
		MCPConfig:       mcpCfg,
		Timeout:         cfg.Claude.Timeout(),
		MaxPromptLength: cfg.Claude.MaxPromptLength,
		Logger:          logger,
	})

	rt := &botRuntime{
		cfg:    cfg,
		logger: logger,
		runner: runner,
		bus:    bus.NewMessageBus(bus.DefaultCapacity),
		seen:   dedupe.New(dedupe.DefaultCapacity),
	}

	var mirror audit.Mirror
	if len(cfg.Audit.KafkaBrokers) > 0 {
		km, err := audit.NewKafkaMirror(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		if err != nil {
			return nil, err
		}
		mirror = km
		logger.Info("Mirroring audit log to Kafka", "brokers", cfg.Audit.KafkaBrokers, "topic", cfg.Audit.KafkaTopic)
	}
	auditLog := audit.NewLogger(cfg.Audit.Path, mirror, logger)
	rt.closers = append(rt.closers, auditLog.Close)

	var sandboxes *sandbox.Manager
	if opts.Sandbox && cfg.Sandbox.Enabled() {
		sandboxes = sandbox.NewManager(cfg.Sandbox.BaseDir, cfg.Sandbox.MaxAge(), cfg.Sandbox.Grace(), logger)
		rt.closers = append(rt.closers, sandboxes.Close)
		logger.Info("Per-request sandboxes enabled", "base", cfg.Sandbox.BaseDir)
	}

	authz := access.New(cfg.Access.Users, cfg.Access.Channels)
	if !authz.Restricted() {
		logger.Warn("No allow-lists configured; every user may run Claude")
	}

	rt.deps = pipeline.Deps{
		Authorizer:   authz,
		Dedupe:       rt.seen,
		Executor:     runner,
		Sessions:     session.NewStore(cfg.Claude.HistoryTurns),
		Sandbox:      sandboxes,
		Audit:        auditLog,
		Formatter:    format.Formatter{},
		AllowedTools: cfg.Claude.AllowedTools,
		Model:        opts.Model,
		Thinking:     opts.Thinking,
		Logger:       logger,
	}
	return rt, nil
}

// startupCheck refuses to run when the CLI cannot report its version.
func (rt *botRuntime) startupCheck(ctx context.Context) error {
	v, err := rt.runner.Version(ctx)
	if err != nil {
		return fmt.Errorf("claude CLI check failed (see `clibridge doctor path`): %w", err)
	}
	rt.logger.Info("Claude CLI available", "command", rt.cfg.Claude.Command, "version", v)
	return nil
}

// serve runs the listener and the dispatcher until ctx is done or either fails.
func (rt *botRuntime) serve(ctx context.Context, l channels.Listener, repliers map[string]pipeline.Replier) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := l.Start(ctx)
		if err == nil && ctx.Err() == nil {
			err = fmt.Errorf("%s listener stopped", l.Name())
		}
		return err
	})
	g.Go(func() error {
		return pipeline.New(rt.deps).Run(ctx, rt.bus, repliers)
	})
	err := g.Wait()
	rt.logger.Info("Shutting down", "listener", l.Name())
	return err
}

func (rt *botRuntime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	return errors.Join(errs...)
}
