package diag

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Location is one candidate install path for the CLI.
type Location struct {
	Path       string
	Exists     bool
	Executable bool
}

// PathReport shows how the CLI command resolves for this process and for a
// login shell, which often has a richer PATH than a service manager provides.
type PathReport struct {
	Command       string
	ProcessPATH   string
	Shell         string
	LoginPATH     string
	LoginShellErr error
	Resolved      string
	ResolveErr    error
	Locations     []Location
}

// CommonLocations lists where the CLI is usually installed.
func CommonLocations(command, home string) []string {
	name := filepath.Base(command)
	locs := []string{
		filepath.Join("/usr/local/bin", name),
		filepath.Join("/opt/homebrew/bin", name),
		"/Applications/Claude.app/Contents/MacOS/claude",
	}
	if home != "" {
		locs = append(locs,
			filepath.Join(home, ".local", "bin", name),
			filepath.Join(home, "bin", name),
			filepath.Join(home, ".npm-global", "bin", name),
		)
	}
	return locs
}

// InspectPath resolves command against the process PATH, asks the login shell for
// its PATH, and checks the common install locations.
func InspectPath(ctx context.Context, command string) PathReport {
	if command == "" {
		command = "claude"
	}
	rep := PathReport{
		Command:     command,
		ProcessPATH: os.Getenv("PATH"),
		Shell:       os.Getenv("SHELL"),
	}
	rep.Resolved, rep.ResolveErr = exec.LookPath(command)

	if rep.Shell == "" {
		rep.Shell = "/bin/sh"
	}
	rep.LoginPATH, rep.LoginShellErr = loginShellPATH(ctx, rep.Shell)

	home, _ := os.UserHomeDir()
	for _, p := range CommonLocations(command, home) {
		rep.Locations = append(rep.Locations, inspectLocation(p))
	}
	return rep
}

func loginShellPATH(ctx context.Context, shell string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, shell, "-l", "-c", `echo "$PATH"`)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

func inspectLocation(path string) Location {
	loc := Location{Path: path}
	info, err := os.Stat(path)
	if err != nil {
		return loc
	}
	loc.Exists = true
	loc.Executable = !info.IsDir() && info.Mode().Perm()&0o111 != 0
	return loc
}
