package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/clibridge/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"      _ _ _          _     _\n" +
		"  ___| (_) |__  _ __(_) __| | __ _  ___\n" +
		" / __| | | '_ \\| '__| |/ _` |/ _` |/ _ \\\n" +
		"| (__| | | |_) | |  | | (_| | (_| |  __/\n" +
		" \\___|_|_|_.__/|_|  |_|\\__,_|\\__, |\\___|\n" +
		"                             |___/\n"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "clibridge",
	Short: "clibridge - chat bots backed by the Claude CLI",
	Long:  color.CyanString(logo) + "\nServes Slack and Microsoft Teams requests by running the Claude command-line tool.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "clibridge %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Extra env file(s) to load before .env (existing variables win)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(slackCmd)
	rootCmd.AddCommand(teamsCmd)
	rootCmd.AddCommand(teamsWebhookCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(probeCmd)
}
