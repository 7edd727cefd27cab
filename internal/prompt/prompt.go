// Package prompt turns raw chat message bodies into plain-text prompts.
package prompt

import (
	"html"
	"regexp"
	"strings"
)

var (
	blockBreakRe = regexp.MustCompile(`(?i)<br\s*/?>|</p\s*>|</div\s*>|</li\s*>`)

	// tagRe matches elements Teams and Slack actually send. Text that merely looks
	// like a tag, such as "x<y and y>z", is left alone.
	tagRe = regexp.MustCompile(`(?i)</?(?:a|abbr|at|attachment|b|blockquote|br|code|del|div|em|emoji|h[1-6]|hr|i|img|li|ol|p|pre|s|span|strike|strong|sub|sup|systemeventmessage|table|tbody|td|th|thead|tr|u|ul)\b[^<>]*>`)

	slackLinkRe    = regexp.MustCompile(`<((?:https?|mailto|ftp):[^<>|\s]+)(?:\|[^<>]*)?>`)
	slackChannelRe = regexp.MustCompile(`<#[A-Z0-9]+\|([^<>]+)>|<#([A-Z0-9]+)>`)
	slackUserRe    = regexp.MustCompile(`<@[A-Z0-9]+\|([^<>]+)>|<@([A-Z0-9]+)>`)
	slackGroupRe   = regexp.MustCompile(`<!subteam\^[A-Z0-9]+\|([^<>]+)>`)
	slackSpecialRe = regexp.MustCompile(`<!(here|channel|everyone)(?:\|[^<>]*)?>`)
)

// Extract strips markup from raw and removes mentions of the bot. names lists the
// bot's identities (display name, user id); each is removed as a Teams
// `<at>name</at>` element, a Slack `<@ID>` token and a textual `@name` token,
// case-insensitively. Other tags are dropped but their text is kept; Slack links,
// channels and user tokens are rewritten to their readable form. The result is
// trimmed, with runs of horizontal whitespace collapsed per line.
//
// Extract is idempotent: it repeats until the text stops changing.
func Extract(raw string, names ...string) string {
	m := newMatcher(names)
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	for {
		next := m.pass(s)
		if next == s {
			return s
		}
		s = next
	}
}

func (m *matcher) pass(s string) string {
	if m != nil {
		s = m.at.ReplaceAllString(s, " ")
		s = m.slack.ReplaceAllString(s, " ")
	}
	s = slackLinkRe.ReplaceAllString(s, "$1")
	s = slackChannelRe.ReplaceAllString(s, "#$1$2")
	s = slackUserRe.ReplaceAllString(s, "@$1$2")
	s = slackGroupRe.ReplaceAllString(s, "$1")
	s = slackSpecialRe.ReplaceAllString(s, "@$1")
	s = blockBreakRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	if m != nil {
		s = m.text.ReplaceAllString(s, "$1")
	}
	return tidy(s)
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// matcher finds mentions of the bot in its three shapes.
type matcher struct {
	at    *regexp.Regexp
	slack *regexp.Regexp
	text  *regexp.Regexp
}

// newMatcher returns nil when names holds no usable identity.
func newMatcher(names []string) *matcher {
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimPrefix(strings.TrimSpace(n), "@")
		if n != "" {
			quoted = append(quoted, regexp.QuoteMeta(n))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	alt := strings.Join(quoted, "|")
	return &matcher{
		at:    regexp.MustCompile(`(?is)<at\b[^>]*>\s*(?:` + alt + `)\s*</at>`),
		slack: regexp.MustCompile(`(?i)<@(?:` + alt + `)(?:\|[^<>]*)?>`),
		text:  regexp.MustCompile(`(?i)(^|[^\w@])@(?:` + alt + `)\b[ \t]*`),
	}
}

func (m *matcher) match(s string) bool {
	return m.at.MatchString(s) || m.slack.MatchString(s) || m.text.MatchString(s)
}

// Mentioned reports whether raw mentions any of names, either as a Teams `<at>`
// element, a Slack `<@ID>` token, or a textual `@name` ending at a word boundary.
func Mentioned(raw string, names ...string) bool {
	m := newMatcher(names)
	if m == nil {
		return false
	}
	return m.match(raw) || m.match(html.UnescapeString(raw))
}
