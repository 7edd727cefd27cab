package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// MCPServer describes one MCP server entry handed to the CLI.
type MCPServer struct {
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
}

// MCPConfig is the `{"mcpServers": {...}}` document accepted by --mcp-config.
type MCPConfig struct {
	Servers map[string]MCPServer `json:"mcpServers"`
}

// LoadMCPConfig reads an MCP config file. An empty path yields nil.
func LoadMCPConfig(path string) (*MCPConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}
	var cfg MCPConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse mcp config %s: %w", path, err)
	}
	for name, srv := range cfg.Servers {
		if srv.Command == "" && srv.URL == "" {
			return nil, fmt.Errorf("mcp server %q: command or url is required", name)
		}
	}
	return &cfg, nil
}

// JSON serializes the config for the --mcp-config flag.
func (c *MCPConfig) JSON() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode mcp config: %w", err)
	}
	return string(data), nil
}

// Names returns the server names in sorted order.
func (c *MCPConfig) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
