package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileVar names an explicit env file to load before the default candidates.
const EnvFileVar = "CLIBRIDGE_ENV_FILE"

// LoadEnvFileCandidates loads environment variables from known files.
// Existing process env vars are never overridden; missing files are skipped.
func LoadEnvFileCandidates(extra ...string) {
	candidates := make([]string, 0, len(extra)+4)
	candidates = append(candidates, extra...)
	if explicit := strings.TrimSpace(os.Getenv(EnvFileVar)); explicit != "" {
		candidates = append(candidates, explicit)
	}
	candidates = append(candidates, ".env")
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "clibridge", "env"))
	}
	seen := map[string]struct{}{}
	for _, p := range candidates {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		abs := p
		if resolved, err := filepath.Abs(p); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		// godotenv.Load keeps values that are already set.
		_ = godotenv.Load(abs)
	}
}
