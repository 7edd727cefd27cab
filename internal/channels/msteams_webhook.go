package channels

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/KafClaw/clibridge/internal/bus"
	"github.com/KafClaw/clibridge/internal/format"
	"github.com/KafClaw/clibridge/internal/pipeline"
)

const maxWebhookBody = 1 << 20

// TeamsWebhook serves a Teams outgoing webhook. Each POST is queued on the bus and
// answered synchronously with whatever the dispatcher replied.
type TeamsWebhook struct {
	BaseChannel
	addr        string
	keys        [][]byte
	mentionName string
	wait        time.Duration
	replies     *webhookCollector
	logger      *slog.Logger
	srv         *http.Server
}

// TeamsWebhookOptions configures NewTeamsWebhook.
type TeamsWebhookOptions struct {
	Addr        string
	Secret      string
	MentionName string
	// Wait bounds how long a request waits for the dispatcher.
	Wait   time.Duration
	Bus    *bus.MessageBus
	Logger *slog.Logger
}

// NewTeamsWebhook creates the webhook server.
func NewTeamsWebhook(opts TeamsWebhookOptions) *TeamsWebhook {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wait := opts.Wait
	if wait <= 0 {
		wait = time.Minute
	}
	w := &TeamsWebhook{
		BaseChannel: BaseChannel{Bus: opts.Bus},
		addr:        opts.Addr,
		keys:        webhookKeys(opts.Secret),
		mentionName: opts.MentionName,
		wait:        wait,
		replies:     newWebhookCollector(),
		logger:      logger.With("channel", "teams-webhook"),
	}
	w.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           w.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return w
}

// webhookKeys returns the HMAC keys to try. Teams issues base64 secrets; both the
// decoded bytes and the literal string are accepted.
func webhookKeys(secret string) [][]byte {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	keys := [][]byte{[]byte(secret)}
	if decoded, err := base64.StdEncoding.DecodeString(secret); err == nil && len(decoded) > 0 {
		keys = append([][]byte{decoded}, keys...)
	}
	return keys
}

func (w *TeamsWebhook) Name() string { return bus.PlatformTeamsWebhook }

// Replier returns the replier the dispatcher must use for this platform.
func (w *TeamsWebhook) Replier() pipeline.Replier { return w.replies }

// Router returns the HTTP routes.
func (w *TeamsWebhook) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
	})
	r.Post("/webhook", w.handleWebhook)
	return r
}

// Start serves until ctx is done.
func (w *TeamsWebhook) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", w.addr, err)
	}
	w.logger.Info("Teams webhook listening", "addr", ln.Addr().String(), "hmac", len(w.keys) > 0)

	errCh := make(chan error, 1)
	go func() { errCh <- w.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type teamsActivity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Text string `json:"text"`
	From struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		AADObjectID string `json:"aadObjectId"`
	} `json:"from"`
	Conversation struct {
		ID string `json:"id"`
	} `json:"conversation"`
	Recipient struct {
		Name string `json:"name"`
	} `json:"recipient"`
}

func (w *TeamsWebhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if len(w.keys) > 0 && !w.validSignature(r.Header.Get("Authorization"), body) {
		w.logger.Warn("Rejected webhook with bad HMAC", "remote", r.RemoteAddr)
		writeJSON(rw, http.StatusForbidden, map[string]string{"error": "Unauthorized"})
		return
	}
	var act teamsActivity
	if err := json.Unmarshal(body, &act); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	sender := act.From.AADObjectID
	if sender == "" {
		sender = act.From.ID
	}
	id := act.ID
	if id == "" {
		id = uuid.NewString()
	}
	var names []string
	for _, n := range []string{act.Recipient.Name, w.mentionName} {
		if n != "" {
			names = append(names, n)
		}
	}
	msg := &bus.InboundMessage{
		ID:       id,
		Platform: bus.PlatformTeamsWebhook,
		Kind:     bus.KindWebhook,
		SenderID: sender,
		ChatID:   act.Conversation.ID,
		RawBody:  act.Text,
		Mentions: names,
		Done:     make(chan struct{}),
	}
	w.logger.Info("Teams webhook request", "user", act.From.Name, "chat", msg.ChatID)

	w.replies.open(id)
	defer w.replies.discard(id)

	ctx, cancel := context.WithTimeout(r.Context(), w.wait)
	defer cancel()
	if err := w.Bus.PublishInbound(ctx, msg); err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"type": "message", "text": "Bot is busy, try again later."})
		return
	}
	select {
	case <-msg.Done:
	case <-ctx.Done():
		writeJSON(rw, http.StatusOK, map[string]string{"type": "message", "text": "⏱️ Claude took too long to respond."})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"type": "message", "text": w.replies.text(id)})
}

func (w *TeamsWebhook) validSignature(header string, body []byte) bool {
	provided, ok := strings.CutPrefix(strings.TrimSpace(header), "HMAC ")
	if !ok {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(provided))
	if err != nil {
		return false
	}
	for _, key := range w.keys {
		mac := hmac.New(sha256.New, key)
		mac.Write(body)
		if hmac.Equal(got, mac.Sum(nil)) {
			return true
		}
	}
	return false
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

// webhookCollector gathers replies per request so the HTTP handler can return them.
type webhookCollector struct {
	mu      sync.Mutex
	replies map[string][]string
}

func newWebhookCollector() *webhookCollector {
	return &webhookCollector{replies: make(map[string][]string)}
}

func (c *webhookCollector) open(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies[id] = nil
}

func (c *webhookCollector) discard(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.replies, id)
}

func (c *webhookCollector) add(id, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.replies[id]; ok {
		c.replies[id] = append(c.replies[id], text)
	}
}

func (c *webhookCollector) text(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.replies[id], "\n\n")
}

func (c *webhookCollector) Send(_ context.Context, to *bus.InboundMessage, text string) (string, error) {
	c.add(to.ID, text)
	return "", nil
}

func (c *webhookCollector) Delete(context.Context, *bus.InboundMessage, string) error { return nil }

func (c *webhookCollector) Deliver(_ context.Context, to *bus.InboundMessage, resp format.Response) error {
	var parts []string
	if text := strings.TrimSpace(resp.Text); text != "" {
		// Plain text goes back as-is; structured output keeps its fence.
		if resp.Block && resp.Lang != "" {
			text = "```\n" + text + "\n```"
		}
		parts = append(parts, text)
	}
	for _, f := range resp.Files {
		parts = append(parts, fmt.Sprintf("📎 %s (%s)", f.Name, humanize.Bytes(uint64(len(f.Content)))))
	}
	c.add(to.ID, strings.Join(parts, "\n"))
	return nil
}
