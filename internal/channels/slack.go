package channels

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/KafClaw/clibridge/internal/bus"
	"github.com/KafClaw/clibridge/internal/config"
	"github.com/KafClaw/clibridge/internal/format"
)

const slackMaxMsgLen = 3900

// Slack listens over Socket Mode and replies through the Web API.
type Slack struct {
	BaseChannel
	api    *slack.Client
	socket *socketmode.Client
	logger *slog.Logger
	botUID string
	ack    func(req socketmode.Request, payload ...any)
}

// NewSlack creates the Slack channel. httpClient may be nil.
func NewSlack(cfg config.SlackConfig, b *bus.MessageBus, httpClient *http.Client, logger *slog.Logger) (*Slack, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("missing SLACK_BOT_TOKEN")
	}
	if strings.TrimSpace(cfg.AppToken) == "" {
		return nil, errors.New("missing SLACK_APP_TOKEN")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []slack.Option{slack.OptionAppLevelToken(cfg.AppToken)}
	if httpClient != nil {
		opts = append(opts, slack.OptionHTTPClient(httpClient))
	}
	if base := strings.TrimSpace(cfg.APIURL); base != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(base, "/")+"/"))
	}
	api := slack.New(cfg.BotToken, opts...)
	s := &Slack{
		BaseChannel: BaseChannel{Bus: b},
		api:         api,
		socket:      socketmode.New(api),
		logger:      logger.With("channel", "slack"),
	}
	s.ack = s.socket.Ack
	return s, nil
}

func (s *Slack) Name() string { return bus.PlatformSlack }

// Connect resolves the bot's own user id.
func (s *Slack) Connect(ctx context.Context) error {
	auth, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = auth.UserID
	s.logger.Info("Slack bot authenticated", "user", auth.User, "user_id", auth.UserID, "team", auth.Team)
	return nil
}

// Start connects over Socket Mode and publishes events until ctx is done.
func (s *Slack) Start(ctx context.Context) error {
	if s.botUID == "" {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-s.socket.Events:
				if !ok {
					return
				}
				s.handleEvent(ctx, evt)
			}
		}
	}()

	s.logger.Info("Starting Slack Socket Mode")
	if err := s.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("slack socket mode: %w", err)
	}
	return nil
}

func (s *Slack) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		s.logger.Info("Connecting to Slack")
	case socketmode.EventTypeConnected:
		s.logger.Info("Connected to Slack")
	case socketmode.EventTypeConnectionError:
		s.logger.Warn("Slack connection error, retrying")
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			s.ack(*evt.Request)
		}
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || ev.Type != slackevents.CallbackEvent {
			return
		}
		s.handleCallback(ctx, ev.InnerEvent)
	case socketmode.EventTypeSlashCommand:
		if evt.Request != nil {
			s.ack(*evt.Request)
		}
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		s.logger.Info("Slack slash command", "command", cmd.Command, "user", cmd.UserID, "chat", cmd.ChannelID)
		s.publish(ctx, &bus.InboundMessage{
			ID:       cmd.TriggerID,
			Platform: bus.PlatformSlack,
			Kind:     bus.KindSlash,
			SenderID: cmd.UserID,
			ChatID:   cmd.ChannelID,
			RawBody:  cmd.Text,
			Command:  cmd.Command,
			Mentions: s.mentions(),
		})
	default:
		if evt.Request != nil {
			s.ack(*evt.Request)
		}
	}
}

func (s *Slack) handleCallback(ctx context.Context, inner slackevents.EventsAPIInnerEvent) {
	switch ev := inner.Data.(type) {
	case *slackevents.AppMentionEvent:
		if ev == nil || ev.BotID != "" || (s.botUID != "" && ev.User == s.botUID) {
			return
		}
		s.logger.Info("Slack mention", "user", ev.User, "chat", ev.Channel)
		s.publish(ctx, &bus.InboundMessage{
			ID:       ev.Channel + ":" + ev.TimeStamp,
			Platform: bus.PlatformSlack,
			Kind:     bus.KindMention,
			SenderID: ev.User,
			ChatID:   ev.Channel,
			ThreadID: ev.ThreadTimeStamp,
			RawBody:  ev.Text,
			Mentions: s.mentions(),
		})
	case *slackevents.MessageEvent:
		if ev == nil || ev.ChannelType != "im" {
			return
		}
		// Edits, joins and our own replies arrive as message events too.
		if ev.SubType != "" || ev.BotID != "" || ev.User == "" || (s.botUID != "" && ev.User == s.botUID) {
			return
		}
		s.logger.Info("Slack direct message", "user", ev.User, "chat", ev.Channel)
		s.publish(ctx, &bus.InboundMessage{
			ID:       ev.Channel + ":" + ev.TimeStamp,
			Platform: bus.PlatformSlack,
			Kind:     bus.KindDirect,
			SenderID: ev.User,
			ChatID:   ev.Channel,
			ThreadID: ev.ThreadTimeStamp,
			RawBody:  ev.Text,
			Mentions: s.mentions(),
		})
	}
}

func (s *Slack) publish(ctx context.Context, msg *bus.InboundMessage) {
	if err := s.Bus.PublishInbound(ctx, msg); err != nil {
		s.logger.Warn("Dropping Slack event", "id", msg.ID, "error", err)
	}
}

func (s *Slack) mentions() []string {
	if s.botUID == "" {
		return nil
	}
	return []string{s.botUID}
}

// Send posts text to the originating conversation and returns the message timestamp.
func (s *Slack) Send(ctx context.Context, to *bus.InboundMessage, text string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if to.ThreadID != "" {
		opts = append(opts, slack.MsgOptionTS(to.ThreadID))
	}
	_, ts, err := s.api.PostMessageContext(ctx, to.ChatID, opts...)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	return ts, nil
}

// Delete removes a message posted by Send.
func (s *Slack) Delete(ctx context.Context, to *bus.InboundMessage, ref string) error {
	if ref == "" {
		return nil
	}
	if _, _, err := s.api.DeleteMessageContext(ctx, to.ChatID, ref); err != nil {
		return fmt.Errorf("slack delete: %w", err)
	}
	return nil
}

// Deliver posts the formatted text, then uploads each file.
func (s *Slack) Deliver(ctx context.Context, to *bus.InboundMessage, resp format.Response) error {
	var errs []error
	if strings.TrimSpace(resp.Text) != "" {
		for _, chunk := range splitMessage(resp.Text, slackMaxMsgLen) {
			if resp.Block {
				chunk = "```\n" + strings.Trim(chunk, "\n") + "\n```"
			}
			if _, err := s.Send(ctx, to, chunk); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	for _, f := range resp.Files {
		if err := s.upload(ctx, to, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Slack) upload(ctx context.Context, to *bus.InboundMessage, f format.File) error {
	_, err := s.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:         to.ChatID,
		ThreadTimestamp: to.ThreadID,
		Filename:        f.Name,
		Title:           f.Name,
		FileSize:        len(f.Content),
		Reader:          bytes.NewReader(f.Content),
	})
	if err != nil {
		return fmt.Errorf("slack upload %s (%s): %w", f.Name, humanize.Bytes(uint64(len(f.Content))), err)
	}
	s.logger.Info("Uploaded file", "name", f.Name, "size", humanize.Bytes(uint64(len(f.Content))))
	return nil
}
