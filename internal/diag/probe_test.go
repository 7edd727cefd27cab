package diag

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/KafClaw/clibridge/internal/executor"
)

type fakeOllama struct {
	mu       sync.Mutex
	requests map[string]map[string]any
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	f.requests = map[string]map[string]any{}
	record := func(r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("%s: decode: %v", r.URL.Path, err)
		}
		f.mu.Lock()
		f.requests[r.URL.Path+"?"+boolKey(body["options"] != nil)] = body
		f.mu.Unlock()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"chat answer"}}`)
	})
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = io.WriteString(w, `{"response":"generated"}`)
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"qwen3:14b",
			"choices":[{"index":0,"message":{"role":"assistant","content":"compat"},"finish_reason":"stop"}]}`)
	})
	mux.HandleFunc("POST /api/show", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = io.WriteString(w, `{"parameters":"num_predict 512\nstop \"<|im_end|>\"","model_info":{"general.architecture":"qwen3"}}`)
	})
	return mux
}

func boolKey(b bool) string {
	if b {
		return "options"
	}
	return "plain"
}

func TestCompareOllama(t *testing.T) {
	f := &fakeOllama{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	res := CompareOllama(t.Context(), OllamaOptions{BaseURL: srv.URL + "/", NumPredict: 64, HTTPClient: srv.Client()})

	var names []string
	for _, e := range res.Endpoints {
		if e.Err != nil {
			t.Fatalf("%s: %v", e.Name, e.Err)
		}
		names = append(names, e.Name)
	}
	want := []string{"/api/chat", "/api/generate", "/api/generate (num_predict)", "/v1/chat/completions"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("endpoints (-want +got):\n%s", diff)
	}
	if res.Endpoints[0].Length != len("chat answer") || res.Endpoints[3].Preview != "compat" {
		t.Fatalf("unexpected results: %+v", res.Endpoints)
	}
	if !res.Model.Loaded || !res.Model.NumPredict || res.Model.Err != nil {
		t.Fatalf("model status: %+v", res.Model)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	opts, _ := f.requests["/api/generate?options"]["options"].(map[string]any)
	if opts["num_predict"] != float64(64) {
		t.Fatalf("options = %v", opts)
	}
	if f.requests["/api/generate?plain"]["model"] != DefaultOllamaModel {
		t.Fatalf("generate request = %v", f.requests["/api/generate?plain"])
	}
	if f.requests["/v1/chat/completions?plain"]["max_tokens"] != float64(64) {
		t.Fatalf("openai request = %v", f.requests["/v1/chat/completions?plain"])
	}
}

func TestCompareOllamaReportsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	res := CompareOllama(t.Context(), OllamaOptions{BaseURL: srv.URL, HTTPClient: srv.Client()})
	for _, e := range res.Endpoints {
		if e.Err == nil {
			t.Fatalf("%s: expected error", e.Name)
		}
	}
	if res.Model.Err == nil {
		t.Fatal("expected show error")
	}
}

func inProcessConnector(t *testing.T, servers map[string]*server.MCPServer) Connector {
	return func(ctx context.Context, name string, _ executor.MCPServer) (MCPClient, error) {
		s, ok := servers[name]
		if !ok {
			return nil, errors.New("executable not found")
		}
		c, err := client.NewInProcessClient(s)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			t.Errorf("start %s: %v", name, err)
			return nil, err
		}
		return c, nil
	}
}

func TestProbeMCP(t *testing.T) {
	gamecode := server.NewMCPServer("gamecode", "0.3.0")
	noop := func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	}
	gamecode.AddTool(mcp.NewTool("read_file", mcp.WithDescription("Read a file")), noop)
	gamecode.AddTool(mcp.NewTool("list_files", mcp.WithDescription("List files")), noop)

	cfg := &executor.MCPConfig{Servers: map[string]executor.MCPServer{
		"gamecode": {Command: "gamecode-mcp"},
		"broken":   {Command: "missing-mcp"},
	}}
	rep := ProbeMCP(t.Context(), cfg,
		"mcp__gamecode__read_file, mcp__gamecode__write_file,mcp__other__x,mcp__broken__y,mcp__gamecode,Bash",
		inProcessConnector(t, map[string]*server.MCPServer{"gamecode": gamecode}))

	if len(rep.Servers) != 2 {
		t.Fatalf("servers = %+v", rep.Servers)
	}
	broken, game := rep.Servers[0], rep.Servers[1]
	if broken.Name != "broken" || broken.Err == nil {
		t.Fatalf("broken = %+v", broken)
	}
	if game.Err != nil || game.Server != "gamecode" || game.Version != "0.3.0" {
		t.Fatalf("gamecode = %+v", game)
	}
	if diff := cmp.Diff([]string{"list_files", "read_file"}, game.Tools); diff != "" {
		t.Fatalf("tools (-want +got):\n%s", diff)
	}

	want := []AllowEntry{
		{Entry: "mcp__gamecode__read_file", Server: "gamecode", Tool: "read_file", Status: AllowOK},
		{Entry: "mcp__gamecode__write_file", Server: "gamecode", Tool: "write_file", Status: AllowMissingTool},
		{Entry: "mcp__other__x", Server: "other", Tool: "x", Status: AllowUnknownServer},
		{Entry: "mcp__broken__y", Server: "broken", Tool: "y", Status: AllowUnreachable},
		{Entry: "mcp__gamecode", Server: "gamecode", Status: AllowOK},
		{Entry: "Bash", Status: AllowNotMCP},
	}
	if diff := cmp.Diff(want, rep.Allowed); diff != "" {
		t.Fatalf("allow-list (-want +got):\n%s", diff)
	}
}

func TestProbeMCPWithoutConfig(t *testing.T) {
	rep := ProbeMCP(t.Context(), nil, "mcp__gamecode__read_file", nil)
	if len(rep.Servers) != 0 || len(rep.Allowed) != 1 || rep.Allowed[0].Status != AllowUnknownServer {
		t.Fatalf("report = %+v", rep)
	}
}
