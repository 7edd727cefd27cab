package channels

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/KafClaw/clibridge/internal/bus"
	"github.com/KafClaw/clibridge/internal/config"
	"github.com/KafClaw/clibridge/internal/dedupe"
	"github.com/KafClaw/clibridge/internal/format"
)

type fakeGraph struct {
	mu       sync.Mutex
	chatsQ   string
	messages string
	posted   []map[string]any
	deleted  []string
	status   int
}

func (g *fakeGraph) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/bot-1/chats", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.chatsQ = r.URL.Query().Get("$filter")
		status := g.status
		g.mu.Unlock()
		if status != 0 {
			http.Error(w, `{"error":{"code":"Forbidden"}}`, status)
			return
		}
		_, _ = io.WriteString(w, `{"value":[{"id":"chat-1"}]}`)
	})
	mux.HandleFunc("GET /chats/chat-1/messages", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("$orderby"); got != "createdDateTime desc" {
			t.Errorf("orderby = %q", got)
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		_, _ = io.WriteString(w, g.messages)
	})
	mux.HandleFunc("POST /chats/chat-1/messages", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		g.mu.Lock()
		g.posted = append(g.posted, payload)
		n := len(g.posted)
		g.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"reply-`+strconv.Itoa(n)+`"}`)
	})
	mux.HandleFunc("POST /users/bot-1/chats/chat-1/messages/{id}/softDelete", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.deleted = append(g.deleted, r.PathValue("id"))
		g.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newTestTeams(t *testing.T, b *bus.MessageBus, seen *dedupe.Set) (*Teams, *fakeGraph) {
	t.Helper()
	g := &fakeGraph{messages: `{"value":[]}`}
	srv := httptest.NewServer(g.handler(t))
	t.Cleanup(srv.Close)

	tm := NewTeams(TeamsOptions{
		Config: config.TeamsConfig{
			BotUserID:       "bot-1",
			MentionName:     "Claude",
			GraphURL:        srv.URL,
			LookbackMinutes: 5,
			GraphRPS:        100,
		},
		Bus:        b,
		Seen:       seen,
		HTTPClient: srv.Client(),
	})
	tm.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return tm, g
}

const graphMessages = `{"value":[
 {"id":"m3","messageType":"message","createdDateTime":"2026-03-01T11:59:30Z",
  "from":{"user":{"id":"user-2","displayName":"Bob"}},
  "body":{"contentType":"html","content":"<p>no mention here</p>"}},
 {"id":"m2","messageType":"message","createdDateTime":"2026-03-01T11:59:20Z",
  "from":{"user":{"id":"bot-1","displayName":"Claude"}},
  "body":{"contentType":"html","content":"<at>Claude</at> echo"}},
 {"id":"m1","messageType":"message","createdDateTime":"2026-03-01T11:59:10Z",
  "from":{"user":{"id":"user-1","displayName":"Alice"}},
  "body":{"contentType":"html","content":"<p><at id=\"0\">Claude</at> list the files</p>"},
  "mentions":[{"id":0,"mentionText":"Claude","mentioned":{"user":{"id":"bot-1","displayName":"Claude"}}}]},
 {"id":"m0","messageType":"systemEventMessage","createdDateTime":"2026-03-01T11:59:00Z",
  "body":{"contentType":"html","content":"<systemEventMessage/>"}}
]}`

func TestTeamsPollPublishesMentions(t *testing.T) {
	b := bus.NewMessageBus(8)
	tm, g := newTestTeams(t, b, nil)
	g.messages = graphMessages

	if err := tm.Poll(t.Context()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if g.chatsQ != "lastMessageReceivedDateTime ge 2026-03-01T11:55:00Z" {
		t.Fatalf("filter = %q", g.chatsQ)
	}
	if n := b.InboundSize(); n != 1 {
		t.Fatalf("published %d, want 1", n)
	}
	msg, err := b.ConsumeInbound(t.Context())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	want := &bus.InboundMessage{
		ID:       "m1",
		Platform: bus.PlatformTeams,
		Kind:     bus.KindMention,
		SenderID: "user-1",
		ChatID:   "chat-1",
		RawBody:  `<p><at id="0">Claude</at> list the files</p>`,
		Mentions: []string{"Claude", "bot-1", "Claude"},
		Dedupe:   true,
		Created:  time.Date(2026, 3, 1, 11, 59, 10, 0, time.UTC),
	}
	if diff := cmp.Diff(want, msg); diff != "" {
		t.Fatalf("message mismatch (-want +got):\n%s", diff)
	}
}

func TestTeamsPollSkipsSeenMessages(t *testing.T) {
	b := bus.NewMessageBus(8)
	seen := dedupe.New(10)
	seen.Record("m1")
	tm, g := newTestTeams(t, b, seen)
	g.messages = graphMessages

	if err := tm.Poll(t.Context()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n := b.InboundSize(); n != 0 {
		t.Fatalf("published %d, want 0", n)
	}
}

func TestTeamsPollPublishesPendingMessageOnce(t *testing.T) {
	b := bus.NewMessageBus(8)
	seen := dedupe.New(10)
	tm, g := newTestTeams(t, b, seen)
	g.messages = graphMessages

	for range 3 {
		if err := tm.Poll(t.Context()); err != nil {
			t.Fatalf("poll: %v", err)
		}
	}
	if n := b.InboundSize(); n != 1 {
		t.Fatalf("published %d copies, want 1", n)
	}

	msg, err := b.ConsumeInbound(t.Context())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if seen.CheckAndRecord(msg.ID) {
		t.Fatal("message should not be recorded before the dispatcher claims it")
	}
	if err := tm.Poll(t.Context()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n := b.InboundSize(); n != 0 {
		t.Fatalf("republished handled message: %d", n)
	}
	if len(tm.queued) != 0 {
		t.Fatalf("queued ids not released: %v", tm.queued)
	}
}

func TestTeamsPollTextMention(t *testing.T) {
	b := bus.NewMessageBus(8)
	tm, g := newTestTeams(t, b, nil)
	g.messages = `{"value":[{"id":"m9","messageType":"message",
	 "from":{"user":{"id":"user-1"}},"body":{"content":"@Claude what time is it"}}]}`

	if err := tm.Poll(t.Context()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n := b.InboundSize(); n != 1 {
		t.Fatalf("published %d, want 1", n)
	}
}

func TestTeamsPollReportsGraphError(t *testing.T) {
	tm, g := newTestTeams(t, bus.NewMessageBus(1), nil)
	g.status = http.StatusForbidden

	err := tm.Poll(t.Context())
	var gerr *GraphError
	if err == nil || !errors.As(err, &gerr) || gerr.Status != http.StatusForbidden {
		t.Fatalf("expected graph 403, got %v", err)
	}
}

func TestTeamsSendAndDelete(t *testing.T) {
	tm, g := newTestTeams(t, bus.NewMessageBus(1), nil)
	to := &bus.InboundMessage{ChatID: "chat-1"}

	ref, err := tm.Send(t.Context(), to, "a < b\nnext")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ref != "reply-1" {
		t.Fatalf("ref = %q", ref)
	}
	if err := tm.Delete(t.Context(), to, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	body := g.posted[0]["body"].(map[string]any)
	if body["contentType"] != "html" || body["content"] != "a &lt; b<br>next" {
		t.Fatalf("unexpected body: %v", body)
	}
	if diff := cmp.Diff([]string{"reply-1"}, g.deleted); diff != "" {
		t.Fatalf("deleted mismatch (-want +got):\n%s", diff)
	}
}

func TestTeamsDeleteWithoutBotUserIsNoop(t *testing.T) {
	tm, g := newTestTeams(t, bus.NewMessageBus(1), nil)
	tm.cfg.BotUserID = ""
	if err := tm.Delete(t.Context(), &bus.InboundMessage{ChatID: "chat-1"}, "reply-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(g.deleted) != 0 {
		t.Fatalf("unexpected delete calls: %v", g.deleted)
	}
}

func TestTeamsDeliverHostsImages(t *testing.T) {
	tm, g := newTestTeams(t, bus.NewMessageBus(1), nil)
	resp := format.Response{
		Kind: format.KindImageFile,
		Files: []format.File{
			{Name: "chart.png", MIME: "image/png", Content: []byte("png-bytes"), Image: true},
			{Name: "data.csv", MIME: "text/csv", Content: []byte("a,b\n1,2\n")},
		},
	}
	if err := tm.Deliver(t.Context(), &bus.InboundMessage{ChatID: "chat-1"}, resp); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.posted) != 1 {
		t.Fatalf("posted %d messages", len(g.posted))
	}
	content := g.posted[0]["body"].(map[string]any)["content"].(string)
	if !strings.Contains(content, `<img src="../hostedContents/1/$value" alt="chart.png">`) {
		t.Fatalf("missing hosted image: %s", content)
	}
	if !strings.Contains(content, "📎 data.csv (8 B)") {
		t.Fatalf("missing file listing: %s", content)
	}
	hosted := g.posted[0]["hostedContents"].([]any)
	first := hosted[0].(map[string]any)
	if first["@microsoft.graph.temporaryId"] != "1" || first["contentBytes"] != "cG5nLWJ5dGVz" || first["contentType"] != "image/png" {
		t.Fatalf("unexpected hosted content: %v", first)
	}
}

func TestTeamsRenderHTML(t *testing.T) {
	tm, _ := newTestTeams(t, bus.NewMessageBus(1), nil)
	cases := []struct {
		name string
		resp format.Response
		want string
	}{
		{"block", format.Response{Kind: format.KindJSON, Text: `{"a":"<b>"}`, Block: true}, `<pre>{&#34;a&#34;:&#34;&lt;b&gt;&#34;}</pre>`},
		{"markdown", format.Response{Kind: format.KindMarkdown, Text: "# Title"}, "<h1>Title</h1>\n"},
		{"plain", format.Response{Kind: format.KindPlain, Text: "one\ntwo"}, "one<br>two"},
		{"empty", format.Response{Kind: format.KindPlain}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tm.renderHTML(tc.resp); got != tc.want {
				t.Fatalf("renderHTML = %q, want %q", got, tc.want)
			}
		})
	}
}
