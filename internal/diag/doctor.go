package diag

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/KafClaw/clibridge/internal/config"
	"github.com/KafClaw/clibridge/internal/executor"
)

// Bot names accepted by Doctor.
const (
	BotSlack        = "slack"
	BotTeams        = "teams"
	BotTeamsWebhook = "teams-webhook"
)

// Doctor checks that cfg can run the given bot ("" checks every bot).
func Doctor(ctx context.Context, cfg *config.Config, bot string) Report {
	var rep Report

	if bot == "" || bot == BotSlack {
		if err := cfg.ValidateSlack(); err != nil {
			rep.add("slack_env", requiredStatus(bot), "%v", err)
		} else {
			rep.add("slack_env", Pass, "Slack tokens set")
		}
	}
	if bot == "" || bot == BotTeams {
		if err := cfg.ValidateTeams(); err != nil {
			rep.add("teams_env", requiredStatus(bot), "%v", err)
		} else if cfg.Teams.BotUserID == "" {
			rep.add("teams_env", Warn, "TEAMS_BOT_USER_ID unset; chats are read via /me and the bot's own messages cannot be filtered by id")
		} else {
			rep.add("teams_env", Pass, "Azure credentials set")
		}
	}
	if bot == "" || bot == BotTeamsWebhook {
		if cfg.Teams.WebhookSecret == "" {
			rep.add("webhook_secret", Warn, "TEAMS_WEBHOOK_SECRET unset; webhook requests are not authenticated")
		} else {
			rep.add("webhook_secret", Pass, "HMAC validation enabled")
		}
	}

	checkCLI(ctx, &rep, cfg.Claude)

	if cfg.Claude.MCPConfigPath != "" {
		if mc, err := executor.LoadMCPConfig(cfg.Claude.MCPConfigPath); err != nil {
			rep.add("mcp_config", Fail, "%v", err)
		} else {
			rep.add("mcp_config", Pass, "%d server(s): %v", len(mc.Servers), mc.Names())
		}
	}

	if cfg.Sandbox.Enabled() {
		if err := writableDir(cfg.Sandbox.BaseDir); err != nil {
			rep.add("sandbox_dir", Fail, "%s: %v", cfg.Sandbox.BaseDir, err)
		} else {
			rep.add("sandbox_dir", Pass, "%s is writable", cfg.Sandbox.BaseDir)
		}
	}

	if cfg.Audit.Path != "" {
		dir := filepath.Dir(cfg.Audit.Path)
		if err := writableDir(dir); err != nil {
			rep.add("audit_log", Fail, "%s: %v", cfg.Audit.Path, err)
		} else {
			rep.add("audit_log", Pass, "%s", cfg.Audit.Path)
		}
	}

	if len(cfg.Access.Users) == 0 && len(cfg.Access.Channels) == 0 {
		rep.add("access", Warn, "ALLOWED_USERS and ALLOWED_CHANNELS are empty; everyone may use the bot")
	} else {
		rep.add("access", Pass, "%d user(s), %d channel(s) allowed", len(cfg.Access.Users), len(cfg.Access.Channels))
	}
	return rep
}

// requiredStatus fails a missing variable only when that bot was asked for.
func requiredStatus(bot string) Status {
	if bot == "" {
		return Warn
	}
	return Fail
}

func checkCLI(ctx context.Context, rep *Report, cc config.ClaudeConfig) {
	path, err := exec.LookPath(cc.Command)
	if err != nil {
		rep.add("cli_path", Fail, "%s not found in PATH (run `clibridge doctor path`)", cc.Command)
		return
	}
	rep.add("cli_path", Pass, "%s", path)

	version, err := executor.New(executor.Options{Command: cc.Command}).Version(ctx)
	if err != nil {
		rep.add("cli_version", Fail, "%v", err)
		return
	}
	rep.add("cli_version", Pass, "%s", version)
}

func writableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".clibridge-doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
