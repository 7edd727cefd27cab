// Package config provides configuration types and loading for clibridge.
package config

import (
	"time"
)

// Config is the root configuration struct, built once at startup and passed to
// every component. Top-level groups: Claude, Access, Slack, Teams, Sandbox, Audit, Log.
type Config struct {
	Claude  ClaudeConfig
	Access  AccessConfig
	Slack   SlackConfig
	Teams   TeamsConfig
	Sandbox SandboxConfig
	Audit   AuditConfig
	Log     LogConfig
}

// ---------------------------------------------------------------------------
// Claude – external CLI invocation
// ---------------------------------------------------------------------------

// ClaudeConfig groups the settings used to invoke the assistant CLI.
type ClaudeConfig struct {
	Command         string `envconfig:"CLAUDE_COMMAND" default:"claude"`
	Model           string `envconfig:"CLAUDE_MODEL"`
	AllowedTools    string `envconfig:"CLAUDE_ALLOWED_TOOLS" default:"mcp__gamecode__read_file,mcp__gamecode__list_files"`
	MCPConfigPath   string `envconfig:"CLAUDE_MCP_CONFIG"`
	TimeoutSeconds  int    `envconfig:"CLAUDE_TIMEOUT" default:"30"`
	MaxPromptLength int    `envconfig:"MAX_PROMPT_LENGTH" default:"1000"`
	HistoryTurns    int    `envconfig:"CONVERSATION_HISTORY" default:"0"`
}

// Timeout returns the wall-clock limit for one CLI run.
func (c ClaudeConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds, 30)
}

// ---------------------------------------------------------------------------
// Access – allow-lists
// ---------------------------------------------------------------------------

// AccessConfig holds the user and channel allow-lists. Empty means unrestricted.
type AccessConfig struct {
	Users    []string `envconfig:"ALLOWED_USERS"`
	Channels []string `envconfig:"ALLOWED_CHANNELS"`
}

// ---------------------------------------------------------------------------
// Channels – chat platforms
// ---------------------------------------------------------------------------

// SlackConfig configures the Slack Socket Mode bot.
type SlackConfig struct {
	BotToken string `envconfig:"SLACK_BOT_TOKEN"`
	AppToken string `envconfig:"SLACK_APP_TOKEN"`
	APIURL   string `envconfig:"SLACK_API_URL"`
}

// TeamsConfig configures the Microsoft Teams bots (Graph polling and outgoing webhook).
type TeamsConfig struct {
	TenantID        string `envconfig:"AZURE_TENANT_ID"`
	ClientID        string `envconfig:"AZURE_CLIENT_ID"`
	ClientSecret    string `envconfig:"AZURE_CLIENT_SECRET"`
	BotUserID       string `envconfig:"TEAMS_BOT_USER_ID"`
	MentionName     string `envconfig:"TEAMS_MENTION_NAME" default:"claude"`
	GraphURL        string `envconfig:"TEAMS_GRAPH_URL" default:"https://graph.microsoft.com/v1.0"`
	AuthorityURL    string `envconfig:"TEAMS_AUTHORITY_URL" default:"https://login.microsoftonline.com"`
	PollSeconds     int    `envconfig:"POLLING_INTERVAL" default:"5"`
	LookbackMinutes int    `envconfig:"TEAMS_LOOKBACK_MINUTES" default:"5"`
	GraphRPS        int    `envconfig:"TEAMS_GRAPH_RPS" default:"4"`
	WebhookSecret   string `envconfig:"TEAMS_WEBHOOK_SECRET"`
	WebhookAddr     string `envconfig:"TEAMS_WEBHOOK_ADDR" default:":5000"`
}

// PollInterval returns the delay between Graph polls.
func (c TeamsConfig) PollInterval() time.Duration {
	return seconds(c.PollSeconds, 5)
}

// Lookback returns how far back a poll looks for active chats.
func (c TeamsConfig) Lookback() time.Duration {
	if c.LookbackMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.LookbackMinutes) * time.Minute
}

// TokenURL returns the Azure AD v2 token endpoint for the tenant.
func (c TeamsConfig) TokenURL() string {
	return trimSlash(c.AuthorityURL) + "/" + c.TenantID + "/oauth2/v2.0/token"
}

// ---------------------------------------------------------------------------
// Sandbox – per-request working directories
// ---------------------------------------------------------------------------

// SandboxConfig controls per-request working directories. Disabled when BaseDir is empty.
type SandboxConfig struct {
	BaseDir      string `envconfig:"SANDBOX_BASE_DIR"`
	MaxAgeSecond int    `envconfig:"SANDBOX_MAX_AGE" default:"3600"`
	GraceSecond  int    `envconfig:"SANDBOX_GRACE" default:"300"`
}

// Enabled reports whether sandboxes are configured.
func (c SandboxConfig) Enabled() bool { return c.BaseDir != "" }

// MaxAge is the age after which an unleased sibling directory is swept.
func (c SandboxConfig) MaxAge() time.Duration { return seconds(c.MaxAgeSecond, 3600) }

// Grace is the delay between releasing a sandbox and removing it.
func (c SandboxConfig) Grace() time.Duration { return seconds(c.GraceSecond, 300) }

// ---------------------------------------------------------------------------
// Audit & logging
// ---------------------------------------------------------------------------

// AuditConfig controls the append-only audit trail.
type AuditConfig struct {
	Path         string   `envconfig:"AUDIT_LOG" default:"claude_audit.jsonl"`
	KafkaBrokers []string `envconfig:"AUDIT_KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"AUDIT_KAFKA_TOPIC" default:"clibridge.audit"`
}

// LogConfig controls process logging.
type LogConfig struct {
	File  string `envconfig:"LOG_FILE" default:"clibridge.log"`
	Debug bool   `envconfig:"DEBUG"`
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
