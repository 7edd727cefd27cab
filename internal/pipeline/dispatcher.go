// Package pipeline turns an inbound chat message into a CLI run and a reply:
// authorize, dedupe, extract the prompt, execute, format, deliver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/KafClaw/clibridge/internal/access"
	"github.com/KafClaw/clibridge/internal/audit"
	"github.com/KafClaw/clibridge/internal/bus"
	"github.com/KafClaw/clibridge/internal/dedupe"
	"github.com/KafClaw/clibridge/internal/executor"
	"github.com/KafClaw/clibridge/internal/format"
	"github.com/KafClaw/clibridge/internal/prompt"
	"github.com/KafClaw/clibridge/internal/sandbox"
	"github.com/KafClaw/clibridge/internal/session"
)

// User-visible replies.
const (
	MsgUnauthorizedBot     = "Sorry, you're not authorized to use this bot."
	MsgUnauthorizedCommand = "Sorry, you're not authorized to use this command."
	MsgPromptRequired      = "Please provide a prompt for Claude."
	MsgPromptTooLong       = "Prompt too long. Maximum length is %d characters."
	MsgThinking            = "_Claude is thinking..._"
	MsgTimeout             = "⏱️ Claude took too long to respond."
	MsgError               = "❌ Error: %s"
	MsgInternalError       = "❌ Error: something went wrong while handling your request."
)

// Replier sends replies back to the chat a message came from.
type Replier interface {
	// Send posts a plain text reply and returns a reference usable with Delete.
	Send(ctx context.Context, to *bus.InboundMessage, text string) (string, error)
	// Delete removes a message previously returned by Send.
	Delete(ctx context.Context, to *bus.InboundMessage, ref string) error
	// Deliver posts a formatted response, uploading its files.
	Deliver(ctx context.Context, to *bus.InboundMessage, resp format.Response) error
}

// Executor runs the CLI.
type Executor interface {
	Run(ctx context.Context, req executor.Request) (*executor.Result, error)
	MaxPromptLength() int
}

// Deps wires the dispatcher. Only Executor is required.
type Deps struct {
	Authorizer   *access.Authorizer
	Dedupe       *dedupe.Set
	Executor     Executor
	Sessions     *session.Store
	Sandbox      *sandbox.Manager
	Audit        *audit.Logger
	Formatter    format.Formatter
	AllowedTools string
	Model        string
	// Thinking posts MsgThinking before execution and deletes it afterwards.
	Thinking bool
	Logger   *slog.Logger
}

// Dispatcher handles inbound messages one at a time.
type Dispatcher struct {
	d      Deps
	logger *slog.Logger
}

// New creates a dispatcher.
func New(d Deps) *Dispatcher {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if d.Authorizer == nil {
		d.Authorizer = access.New(nil, nil)
	}
	return &Dispatcher{d: d, logger: logger}
}

// Run consumes the bus until ctx is done, handling each message with the
// replier registered for its platform. Messages are handled strictly in order.
func (p *Dispatcher) Run(ctx context.Context, b *bus.MessageBus, repliers map[string]Replier) error {
	p.logger.Info("Dispatcher started")
	for {
		msg, err := b.ConsumeInbound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("Failed to consume message", "error", err)
			continue
		}
		r, ok := repliers[msg.Platform]
		if !ok {
			p.logger.Warn("No replier for platform", "platform", msg.Platform, "id", msg.ID)
			msg.Finish()
			continue
		}
		p.Handle(ctx, msg, r)
	}
}

// Handle processes one message. Failures are reported to the chat and logged;
// a panic is recovered so the listener keeps running.
func (p *Dispatcher) Handle(ctx context.Context, msg *bus.InboundMessage, r Replier) {
	reqID := uuid.NewString()
	log := p.logger.With("request_id", reqID, "platform", msg.Platform, "user", msg.SenderID, "chat", msg.ChatID)
	defer msg.Finish()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Panic while handling message", "panic", rec, "stack", string(debug.Stack()))
			p.send(ctx, log, msg, r, MsgInternalError)
		}
	}()

	// Claim the id first so a redelivered copy gets no second reply, rejections included.
	if msg.Dedupe && p.d.Dedupe != nil && msg.ID != "" {
		if p.d.Dedupe.CheckAndRecord(msg.ID) {
			log.Debug("Skipping already processed message", "id", msg.ID)
			return
		}
	}

	if !p.d.Authorizer.Authorized(msg.SenderID, msg.ChatID) {
		log.Warn("Unauthorized request")
		text := MsgUnauthorizedBot
		if msg.Kind == bus.KindSlash {
			text = MsgUnauthorizedCommand
		}
		p.send(ctx, log, msg, r, text)
		return
	}

	text := prompt.Extract(msg.RawBody, msg.Mentions...)
	if text == "" {
		p.send(ctx, log, msg, r, MsgPromptRequired)
		return
	}
	if limit := p.d.Executor.MaxPromptLength(); limit > 0 && utf8.RuneCountInString(text) > limit {
		p.send(ctx, log, msg, r, fmt.Sprintf(MsgPromptTooLong, limit))
		return
	}

	log.Info("Claude request", "prompt", preview(text, 100))
	if p.d.Audit != nil {
		if err := p.d.Audit.Record(ctx, audit.Entry{
			User:         msg.SenderID,
			Channel:      msg.ChatID,
			Prompt:       text,
			AllowedTools: p.d.AllowedTools,
			Platform:     msg.Platform,
			RequestID:    reqID,
		}); err != nil {
			log.Error("Audit write failed", "error", err)
		}
	}

	var notice string
	if p.d.Thinking {
		notice = p.send(ctx, log, msg, r, MsgThinking)
	}

	req := executor.Request{Prompt: text, Model: p.d.Model}
	if p.d.Sessions.Enabled() {
		req.History = p.d.Sessions.History(msg.SessionKey())
	}
	formatter := p.d.Formatter
	var lease *sandbox.Lease
	if p.d.Sandbox != nil {
		l, err := p.d.Sandbox.Acquire(ctx)
		if err != nil {
			log.Error("Sandbox unavailable", "error", err)
		} else {
			lease = l
			defer lease.Release()
			req.WorkDir = lease.Dir()
			formatter.BaseDir = lease.Dir()
		}
	}

	start := time.Now()
	res, err := p.d.Executor.Run(ctx, req)
	if notice != "" {
		if derr := r.Delete(ctx, msg, notice); derr != nil {
			log.Warn("Failed to delete thinking notice", "error", derr)
		}
	}
	if err != nil {
		p.reportError(ctx, log, msg, r, err)
		return
	}
	log.Info("Claude finished", "elapsed", time.Since(start).Round(time.Millisecond), "bytes", len(res.Stdout))

	var created []string
	if lease != nil {
		created = lease.Created()
	}
	resp := formatter.Format(res.Output(), text, created)
	if err := r.Deliver(ctx, msg, resp); err != nil {
		log.Error("Failed to deliver response", "kind", resp.Kind, "error", err)
	}
	p.d.Sessions.Append(msg.SessionKey(), text, res.Output())
}

func (p *Dispatcher) reportError(ctx context.Context, log *slog.Logger, msg *bus.InboundMessage, r Replier, err error) {
	switch {
	case errors.Is(err, executor.ErrTimeout):
		log.Warn("Claude timed out", "error", err)
		p.send(ctx, log, msg, r, MsgTimeout)
	case errors.Is(err, executor.ErrEmptyPrompt):
		p.send(ctx, log, msg, r, MsgPromptRequired)
	case errors.Is(err, executor.ErrPromptTooLong):
		p.send(ctx, log, msg, r, fmt.Sprintf(MsgPromptTooLong, p.d.Executor.MaxPromptLength()))
	default:
		log.Error("Claude failed", "error", err)
		p.send(ctx, log, msg, r, fmt.Sprintf(MsgError, err.Error()))
	}
}

// send posts text and logs platform failures instead of returning them.
func (p *Dispatcher) send(ctx context.Context, log *slog.Logger, msg *bus.InboundMessage, r Replier, text string) string {
	ref, err := r.Send(ctx, msg, text)
	if err != nil {
		log.Error("Failed to send message", "error", err)
		return ""
	}
	return ref
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
