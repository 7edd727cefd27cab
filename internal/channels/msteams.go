package channels

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/KafClaw/clibridge/internal/bus"
	"github.com/KafClaw/clibridge/internal/config"
	"github.com/KafClaw/clibridge/internal/dedupe"
	"github.com/KafClaw/clibridge/internal/format"
	"github.com/KafClaw/clibridge/internal/prompt"
)

const graphScope = "https://graph.microsoft.com/.default"

// Teams polls Microsoft Graph for chat messages that mention the bot and replies
// by posting chat messages.
type Teams struct {
	BaseChannel
	cfg     config.TeamsConfig
	client  *http.Client
	limiter *rate.Limiter
	seen    *dedupe.Set
	queued  map[string]struct{} // published but not yet claimed by the dispatcher
	md      goldmark.Markdown
	logger  *slog.Logger
	now     func() time.Time
}

// TeamsOptions configures NewTeams. HTTPClient overrides the Azure AD
// client-credentials client.
type TeamsOptions struct {
	Config     config.TeamsConfig
	Bus        *bus.MessageBus
	Seen       *dedupe.Set
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewTeams creates the Teams Graph poller.
func NewTeams(opts TeamsOptions) *Teams {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		cc := &clientcredentials.Config{
			ClientID:     opts.Config.ClientID,
			ClientSecret: opts.Config.ClientSecret,
			TokenURL:     opts.Config.TokenURL(),
			Scopes:       []string{graphScope},
		}
		// The token source caches and refreshes the app token.
		client = cc.Client(context.Background())
		client.Timeout = 30 * time.Second
	}
	rps := opts.Config.GraphRPS
	if rps <= 0 {
		rps = 4
	}
	seen := opts.Seen
	if seen == nil {
		seen = dedupe.New(dedupe.DefaultCapacity)
	}
	return &Teams{
		BaseChannel: BaseChannel{Bus: opts.Bus},
		cfg:         opts.Config,
		client:      client,
		limiter:     rate.NewLimiter(rate.Limit(rps), rps),
		seen:        seen,
		queued:      make(map[string]struct{}),
		md:          goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:      logger.With("channel", "teams"),
		now:         time.Now,
	}
}

func (t *Teams) Name() string { return bus.PlatformTeams }

// Start polls until ctx is done. After a failed poll the next one waits twice
// the interval.
func (t *Teams) Start(ctx context.Context) error {
	interval := t.cfg.PollInterval()
	t.logger.Info("Starting Teams polling", "interval", interval, "mention", t.cfg.MentionName)
	for {
		wait := interval
		if err := t.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Error("Error polling messages", "error", err)
			wait = 2 * interval
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

type graphIdentity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type graphMessage struct {
	ID              string    `json:"id"`
	MessageType     string    `json:"messageType"`
	CreatedDateTime time.Time `json:"createdDateTime"`
	From            *struct {
		User *graphIdentity `json:"user"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	Mentions []struct {
		ID          int    `json:"id"`
		MentionText string `json:"mentionText"`
		Mentioned   struct {
			User *graphIdentity `json:"user"`
		} `json:"mentioned"`
	} `json:"mentions"`
}

// Poll runs one polling pass over recently active chats. A message is published
// once; later passes skip it while it waits on the bus.
func (t *Teams) Poll(ctx context.Context) error {
	for id := range t.queued {
		if t.seen.Seen(id) {
			delete(t.queued, id)
		}
	}
	since := t.now().UTC().Add(-t.cfg.Lookback()).Format("2006-01-02T15:04:05Z")
	q := url.Values{}
	q.Set("$filter", "lastMessageReceivedDateTime ge "+since)

	var chats struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	if err := t.get(ctx, t.chatsPath()+"?"+q.Encode(), &chats); err != nil {
		return fmt.Errorf("list chats: %w", err)
	}
	for _, chat := range chats.Value {
		if err := t.pollChat(ctx, chat.ID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Warn("Failed to read chat messages", "chat", chat.ID, "error", err)
		}
	}
	return nil
}

func (t *Teams) chatsPath() string {
	if t.cfg.BotUserID != "" {
		return "/users/" + url.PathEscape(t.cfg.BotUserID) + "/chats"
	}
	return "/me/chats"
}

func (t *Teams) pollChat(ctx context.Context, chatID string) error {
	q := url.Values{}
	q.Set("$top", "10")
	q.Set("$orderby", "createdDateTime desc")
	var msgs struct {
		Value []graphMessage `json:"value"`
	}
	if err := t.get(ctx, "/chats/"+url.PathEscape(chatID)+"/messages?"+q.Encode(), &msgs); err != nil {
		return err
	}
	// Newest first from Graph; publish oldest first.
	for i := len(msgs.Value) - 1; i >= 0; i-- {
		m := msgs.Value[i]
		if m.ID == "" || t.seen.Seen(m.ID) {
			continue
		}
		if _, ok := t.queued[m.ID]; ok {
			continue
		}
		if m.MessageType != "" && m.MessageType != "message" {
			continue
		}
		if m.From == nil || m.From.User == nil {
			continue
		}
		if t.cfg.BotUserID != "" && m.From.User.ID == t.cfg.BotUserID {
			continue
		}
		names, ok := t.mentioned(m)
		if !ok {
			continue
		}
		t.logger.Info("Teams mention", "user", m.From.User.DisplayName, "chat", chatID, "id", m.ID)
		if err := t.Bus.PublishInbound(ctx, &bus.InboundMessage{
			ID:       m.ID,
			Platform: bus.PlatformTeams,
			Kind:     bus.KindMention,
			SenderID: m.From.User.ID,
			ChatID:   chatID,
			RawBody:  m.Body.Content,
			Mentions: names,
			Dedupe:   true,
			Created:  m.CreatedDateTime,
		}); err != nil {
			return err
		}
		t.queued[m.ID] = struct{}{}
	}
	return nil
}

// mentioned reports whether m addresses the bot and returns the names to strip
// from its body.
func (t *Teams) mentioned(m graphMessage) ([]string, bool) {
	names := t.selfNames()
	hit := false
	for _, mn := range m.Mentions {
		u := mn.Mentioned.User
		byID := u != nil && t.cfg.BotUserID != "" && u.ID == t.cfg.BotUserID
		byName := t.cfg.MentionName != "" && strings.EqualFold(strings.TrimSpace(mn.MentionText), t.cfg.MentionName)
		if byID || byName {
			hit = true
			if mn.MentionText != "" {
				names = append(names, mn.MentionText)
			}
		}
	}
	if !hit {
		hit = prompt.Mentioned(m.Body.Content, t.selfNames()...)
	}
	return names, hit
}

func (t *Teams) selfNames() []string {
	var names []string
	if t.cfg.MentionName != "" {
		names = append(names, t.cfg.MentionName)
	}
	if t.cfg.BotUserID != "" {
		names = append(names, t.cfg.BotUserID)
	}
	return names
}

// Send posts text to the chat and returns the new message id.
func (t *Teams) Send(ctx context.Context, to *bus.InboundMessage, text string) (string, error) {
	return t.postMessage(ctx, to.ChatID, textHTML(text), nil)
}

// Delete soft-deletes a message sent by the bot user. Without a bot user id
// there is nothing the app may delete.
func (t *Teams) Delete(ctx context.Context, to *bus.InboundMessage, ref string) error {
	if ref == "" || t.cfg.BotUserID == "" {
		return nil
	}
	path := fmt.Sprintf("/users/%s/chats/%s/messages/%s/softDelete",
		url.PathEscape(t.cfg.BotUserID), url.PathEscape(to.ChatID), url.PathEscape(ref))
	return t.do(ctx, http.MethodPost, path, nil, nil)
}

// Deliver renders resp as one HTML chat message. Images are sent inline as hosted
// contents; other files are listed by name.
func (t *Teams) Deliver(ctx context.Context, to *bus.InboundMessage, resp format.Response) error {
	var body strings.Builder
	body.WriteString(t.renderHTML(resp))

	var hosted []map[string]string
	for _, f := range resp.Files {
		if f.Image {
			id := strconv.Itoa(len(hosted) + 1)
			hosted = append(hosted, map[string]string{
				"@microsoft.graph.temporaryId": id,
				"contentBytes":                 base64.StdEncoding.EncodeToString(f.Content),
				"contentType":                  f.MIME,
			})
			fmt.Fprintf(&body, `<p><img src="../hostedContents/%s/$value" alt="%s"></p>`, id, html.EscapeString(f.Name))
			continue
		}
		fmt.Fprintf(&body, "<p>📎 %s (%s)</p>", html.EscapeString(f.Name), humanize.Bytes(uint64(len(f.Content))))
	}
	if body.Len() == 0 {
		return nil
	}
	_, err := t.postMessage(ctx, to.ChatID, body.String(), hosted)
	return err
}

func (t *Teams) renderHTML(resp format.Response) string {
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return ""
	}
	if resp.Block {
		return "<pre>" + html.EscapeString(text) + "</pre>"
	}
	if resp.Kind == format.KindMarkdown || resp.Kind == format.KindCSV {
		var buf bytes.Buffer
		if err := t.md.Convert([]byte(text), &buf); err == nil {
			return buf.String()
		}
	}
	return textHTML(text)
}

func textHTML(text string) string {
	return strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
}

func (t *Teams) postMessage(ctx context.Context, chatID, content string, hosted []map[string]string) (string, error) {
	payload := map[string]any{
		"body": map[string]string{"contentType": "html", "content": content},
	}
	if len(hosted) > 0 {
		payload["hostedContents"] = hosted
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := t.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/messages", payload, &created); err != nil {
		return "", fmt.Errorf("send teams message: %w", err)
	}
	return created.ID, nil
}

func (t *Teams) get(ctx context.Context, path string, out any) error {
	return t.do(ctx, http.MethodGet, path, nil, out)
}

func (t *Teams) do(ctx context.Context, method, path string, payload, out any) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	u := strings.TrimRight(t.cfg.GraphURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bb, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &GraphError{Status: resp.StatusCode, Body: strings.TrimSpace(string(bb))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}

// GraphError is a non-2xx Graph response.
type GraphError struct {
	Status int
	Body   string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph status %d: %s", e.Status, e.Body)
}
