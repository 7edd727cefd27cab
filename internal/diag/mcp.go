package diag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/KafClaw/clibridge/internal/executor"
)

// MCPClient is the subset of the mcp-go client the probe needs.
type MCPClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	Close() error
}

// Connector starts or dials one configured server.
type Connector func(ctx context.Context, name string, srv executor.MCPServer) (MCPClient, error)

// ServerTools is what one server reported.
type ServerTools struct {
	Name    string
	Server  string
	Version string
	Tools   []string
	Err     error
}

// AllowEntry is one CLAUDE_ALLOWED_TOOLS entry checked against the servers.
type AllowEntry struct {
	Entry  string
	Server string
	Tool   string
	Status string
}

// Allow-list entry states.
const (
	AllowOK            = "ok"
	AllowMissingTool   = "missing tool"
	AllowUnknownServer = "unknown server"
	AllowUnreachable   = "server unreachable"
	AllowNotMCP        = "not an mcp tool"
)

// MCPReport is the result of ProbeMCP.
type MCPReport struct {
	Servers []ServerTools
	Allowed []AllowEntry
}

// ProbeMCP connects to every configured server, lists its tools and checks each
// `mcp__<server>__<tool>` entry of allowedTools against them.
func ProbeMCP(ctx context.Context, cfg *executor.MCPConfig, allowedTools string, connect Connector) MCPReport {
	if connect == nil {
		connect = DialMCP
	}
	var rep MCPReport
	byName := map[string]ServerTools{}
	for _, name := range cfg.Names() {
		st := probeServer(ctx, name, cfg.Servers[name], connect)
		byName[name] = st
		rep.Servers = append(rep.Servers, st)
	}

	for _, entry := range strings.Split(allowedTools, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		rep.Allowed = append(rep.Allowed, checkAllowed(entry, byName))
	}
	return rep
}

func probeServer(ctx context.Context, name string, srv executor.MCPServer, connect Connector) ServerTools {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	st := ServerTools{Name: name}
	c, err := connect(ctx, name, srv)
	if err != nil {
		st.Err = fmt.Errorf("start: %w", err)
		return st
	}
	defer c.Close()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "clibridge-probe", Version: "1.0.0"}
	res, err := c.Initialize(ctx, req)
	if err != nil {
		st.Err = fmt.Errorf("initialize: %w", err)
		return st
	}
	st.Server = res.ServerInfo.Name
	st.Version = res.ServerInfo.Version

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		st.Err = fmt.Errorf("list tools: %w", err)
		return st
	}
	for _, t := range tools.Tools {
		st.Tools = append(st.Tools, t.Name)
	}
	sort.Strings(st.Tools)
	return st
}

func checkAllowed(entry string, servers map[string]ServerTools) AllowEntry {
	ae := AllowEntry{Entry: entry}
	rest, ok := strings.CutPrefix(entry, "mcp__")
	if !ok {
		ae.Status = AllowNotMCP
		return ae
	}
	ae.Server, ae.Tool, _ = strings.Cut(rest, "__")
	st, ok := servers[ae.Server]
	switch {
	case !ok:
		ae.Status = AllowUnknownServer
	case st.Err != nil:
		ae.Status = AllowUnreachable
	case ae.Tool == "":
		// mcp__server allows every tool of the server.
		ae.Status = AllowOK
	case contains(st.Tools, ae.Tool):
		ae.Status = AllowOK
	default:
		ae.Status = AllowMissingTool
	}
	return ae
}

func contains(list []string, s string) bool {
	i := sort.SearchStrings(list, s)
	return i < len(list) && list[i] == s
}

// DialMCP starts a stdio server or connects to a streamable HTTP one.
func DialMCP(ctx context.Context, name string, srv executor.MCPServer) (MCPClient, error) {
	if srv.Command != "" {
		env := make([]string, 0, len(srv.Env))
		for k, v := range srv.Env {
			env = append(env, k+"="+v)
		}
		c, err := client.NewStdioMCPClient(srv.Command, env, srv.Args...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	if srv.URL == "" {
		return nil, errors.New("server " + name + " has neither command nor url")
	}
	c, err := client.NewStreamableHttpClient(srv.URL)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}
