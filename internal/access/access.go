// Package access implements the user/channel allow-list check applied to every
// inbound chat message.
package access

import "strings"

// Authorizer checks senders and channels against configured allow-lists.
// An empty list imposes no restriction.
type Authorizer struct {
	users    map[string]struct{}
	channels map[string]struct{}
}

// New builds an Authorizer. Entries are trimmed and blank entries dropped, so a
// list parsed from an empty env var stays unrestricted.
func New(users, channels []string) *Authorizer {
	return &Authorizer{
		users:    toSet(users),
		channels: toSet(channels),
	}
}

// Authorized reports whether user may talk to the bot in channel.
func (a *Authorizer) Authorized(user, channel string) bool {
	if a == nil {
		return true
	}
	if len(a.users) > 0 {
		if _, ok := a.users[strings.TrimSpace(user)]; !ok {
			return false
		}
	}
	if len(a.channels) > 0 {
		if _, ok := a.channels[strings.TrimSpace(channel)]; !ok {
			return false
		}
	}
	return true
}

// Restricted reports whether any allow-list is configured.
func (a *Authorizer) Restricted() bool {
	return a != nil && (len(a.users) > 0 || len(a.channels) > 0)
}

func toSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}
