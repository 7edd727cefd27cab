package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// DefaultTeamsModel is the model passed by the Teams bots when CLAUDE_MODEL is unset.
const DefaultTeamsModel = "claude-3-5-sonnet-latest"

// Load builds the configuration from env files and the process environment.
// Env files never override variables already present in the process.
func Load(envFiles ...string) (*Config, error) {
	LoadEnvFileCandidates(envFiles...)

	cfg := &Config{}
	groups := []struct {
		name   string
		target any
	}{
		{"claude", &cfg.Claude},
		{"access", &cfg.Access},
		{"slack", &cfg.Slack},
		{"teams", &cfg.Teams},
		{"sandbox", &cfg.Sandbox},
		{"audit", &cfg.Audit},
		{"log", &cfg.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process("", g.target); err != nil {
			return nil, fmt.Errorf("load %s config: %w", g.name, err)
		}
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Access.Users = cleanList(c.Access.Users)
	c.Access.Channels = cleanList(c.Access.Channels)
	c.Audit.KafkaBrokers = cleanList(c.Audit.KafkaBrokers)
	c.Claude.Command = strings.TrimSpace(c.Claude.Command)
	c.Claude.AllowedTools = strings.TrimSpace(c.Claude.AllowedTools)
	c.Teams.MentionName = strings.TrimPrefix(strings.TrimSpace(c.Teams.MentionName), "@")
}

// ValidateSlack reports the variables the Slack bot cannot run without.
func (c *Config) ValidateSlack() error {
	return requireVars(map[string]string{
		"SLACK_BOT_TOKEN": c.Slack.BotToken,
		"SLACK_APP_TOKEN": c.Slack.AppToken,
	}, "SLACK_BOT_TOKEN", "SLACK_APP_TOKEN")
}

// ValidateTeams reports the variables the Teams polling bot cannot run without.
func (c *Config) ValidateTeams() error {
	return requireVars(map[string]string{
		"AZURE_TENANT_ID":     c.Teams.TenantID,
		"AZURE_CLIENT_ID":     c.Teams.ClientID,
		"AZURE_CLIENT_SECRET": c.Teams.ClientSecret,
	}, "AZURE_TENANT_ID", "AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET")
}

// TeamsModel returns the model for the Teams bots.
func (c *Config) TeamsModel() string {
	if c.Claude.Model != "" {
		return c.Claude.Model
	}
	return DefaultTeamsModel
}

func requireVars(values map[string]string, order ...string) error {
	var missing []string
	for _, k := range order {
		if strings.TrimSpace(values[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
