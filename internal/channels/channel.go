// Package channels connects chat platforms to the message bus and sends replies
// back to them.
package channels

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/KafClaw/clibridge/internal/bus"
	"github.com/KafClaw/clibridge/internal/pipeline"
)

// Listener receives chat events and publishes them to the bus until ctx is done.
type Listener interface {
	// Name returns the platform name (e.g. "slack").
	Name() string
	// Start blocks while the listener runs.
	Start(ctx context.Context) error
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus *bus.MessageBus
}

var (
	_ Listener         = (*Slack)(nil)
	_ Listener         = (*Teams)(nil)
	_ Listener         = (*TeamsWebhook)(nil)
	_ pipeline.Replier = (*Slack)(nil)
	_ pipeline.Replier = (*Teams)(nil)
	_ pipeline.Replier = (*webhookCollector)(nil)
)

// splitMessage cuts msg into chunks of at most maxRunes, preferring line breaks.
func splitMessage(msg string, maxRunes int) []string {
	if maxRunes <= 0 || utf8.RuneCountInString(msg) <= maxRunes {
		return []string{msg}
	}
	var chunks []string
	for msg != "" {
		if utf8.RuneCountInString(msg) <= maxRunes {
			chunks = append(chunks, msg)
			break
		}
		head := prefixRunes(msg, maxRunes)
		cut := len(head)
		if idx := strings.LastIndex(head, "\n"); idx > len(head)/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
