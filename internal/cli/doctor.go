package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/KafClaw/clibridge/internal/config"
	"github.com/KafClaw/clibridge/internal/diag"
)

var (
	doctorBot     string
	doctorTimeout time.Duration
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run configuration and setup diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFiles...)
		if err != nil {
			return err
		}
		report := diag.Doctor(cmd.Context(), cfg, doctorBot)

		out := cmd.OutOrStdout()
		for _, check := range report.Checks {
			fmt.Fprintf(out, "[%s] %s: %s\n", statusLabel(check.Status), check.Name, check.Message)
		}
		if n := report.Failures(); n > 0 {
			return fmt.Errorf("doctor found %d failing check(s)", n)
		}
		return nil
	},
}

var doctorPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show how the Claude CLI resolves from this process and a login shell",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFiles...)
		if err != nil {
			return err
		}
		rep := diag.InspectPath(cmd.Context(), cfg.Claude.Command)

		out := cmd.OutOrStdout()
		printHeader(out, "PATH diagnostics")
		fmt.Fprintf(out, "Process PATH:\n  %s\n\n", strings.ReplaceAll(rep.ProcessPATH, string(os.PathListSeparator), "\n  "))
		if rep.LoginShellErr != nil {
			fmt.Fprintf(out, "Login shell (%s -l): %v\n\n", rep.Shell, rep.LoginShellErr)
		} else {
			fmt.Fprintf(out, "Login shell (%s -l) PATH:\n  %s\n\n", rep.Shell, strings.ReplaceAll(rep.LoginPATH, string(os.PathListSeparator), "\n  "))
		}
		if rep.ResolveErr != nil {
			fmt.Fprintf(out, "[%s] %s: %v\n\n", statusLabel(diag.Fail), rep.Command, rep.ResolveErr)
		} else {
			fmt.Fprintf(out, "[%s] %s -> %s\n\n", statusLabel(diag.Pass), rep.Command, rep.Resolved)
		}
		fmt.Fprintln(out, "Common locations:")
		for _, loc := range rep.Locations {
			fmt.Fprintf(out, "  %s: exists=%s executable=%s\n", loc.Path, yesNo(loc.Exists), yesNo(loc.Executable))
		}
		return nil
	},
}

var doctorEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "Show environment variables that affect the Claude CLI (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		config.LoadEnvFileCandidates(envFiles...)
		out := cmd.OutOrStdout()
		for _, v := range diag.RelevantEnv(os.Environ()) {
			fmt.Fprintf(out, "%s=%s\n", v.Key, v.Value)
		}
		return nil
	},
}

var doctorCLICmd = &cobra.Command{
	Use:   "cli [prompt]",
	Short: "Run the Claude CLI with each argument form and compare the results",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFiles...)
		if err != nil {
			return err
		}
		prompt := "List files in current directory"
		if len(args) == 1 {
			prompt = args[0]
		}
		variants := diag.Variants(cfg.Claude.Command, cfg.TeamsModel(), cfg.Claude.AllowedTools, prompt)

		out := cmd.OutOrStdout()
		for i, res := range diag.RunVariants(cmd.Context(), variants, doctorTimeout) {
			fmt.Fprintf(out, "\n--- Test %d (%s) ---\n", i+1, res.Variant.Name)
			if res.Variant.Shell != "" {
				fmt.Fprintf(out, "Shell command: %s\n", res.Variant.Shell)
			} else {
				fmt.Fprintf(out, "Command: %s\n", strings.Join(res.Variant.Args, " "))
			}
			status := diag.Pass
			if res.ExitCode != 0 || res.Err != nil {
				status = diag.Fail
			}
			fmt.Fprintf(out, "[%s] exit=%d elapsed=%s\n", statusLabel(status), res.ExitCode, res.Elapsed.Round(time.Millisecond))
			if res.Err != nil {
				fmt.Fprintf(out, "Error: %v\n", res.Err)
			}
			fmt.Fprintf(out, "Stdout: %s\n", res.Stdout)
			fmt.Fprintf(out, "Stderr: %s\n", res.Stderr)
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().StringVar(&doctorBot, "bot", "", "Only check requirements of one bot (slack, teams, teams-webhook)")
	doctorCLICmd.Flags().DurationVar(&doctorTimeout, "timeout", 60*time.Second, "Timeout per CLI run")
	doctorCmd.AddCommand(doctorPathCmd, doctorEnvCmd, doctorCLICmd)
}
