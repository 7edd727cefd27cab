package diag

import (
	"sort"
	"strings"
)

var (
	envInterest = []string{"CLAUDE", "PATH", "HOME", "SHELL", "ANTHROPIC", "CONFIG"}
	envSecret   = []string{"TOKEN", "SECRET", "KEY", "PASSWORD", "CREDENTIAL"}
)

// EnvVar is one environment entry; Value is masked for secret-looking names.
type EnvVar struct {
	Key    string
	Value  string
	Masked bool
}

// RelevantEnv filters environ ("KEY=value" entries) down to the variables that
// affect how the CLI is found and configured, sorted by name.
func RelevantEnv(environ []string) []EnvVar {
	var out []EnvVar
	for _, kv := range environ {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !containsAny(strings.ToUpper(key), envInterest) {
			continue
		}
		v := EnvVar{Key: key, Value: val}
		if containsAny(strings.ToUpper(key), envSecret) {
			v.Value = mask(val)
			v.Masked = true
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// mask keeps the last four characters of long values.
func mask(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
