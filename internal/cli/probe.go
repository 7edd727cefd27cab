package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/KafClaw/clibridge/internal/config"
	"github.com/KafClaw/clibridge/internal/diag"
	"github.com/KafClaw/clibridge/internal/executor"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe local model and MCP servers",
}

var ollamaOpts diag.OllamaOptions

var probeOllamaCmd = &cobra.Command{
	Use:   "ollama",
	Short: "Compare Ollama chat, generate and OpenAI-compatible endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		res := diag.CompareOllama(cmd.Context(), ollamaOpts)
		for _, e := range res.Endpoints {
			fmt.Fprintf(out, "\n%s\n", e.Name)
			if e.Err != nil {
				fmt.Fprintf(out, "[%s] %v (after %s)\n", statusLabel(diag.Fail), e.Err, e.Elapsed.Round(100*time.Millisecond))
				continue
			}
			fmt.Fprintf(out, "[%s] time %.1fs, response length %s chars\n", statusLabel(diag.Pass), e.Elapsed.Seconds(), humanize.Comma(int64(e.Length)))
			if e.Preview != "" {
				fmt.Fprintf(out, "  %s\n", e.Preview)
			}
		}
		fmt.Fprintln(out, "\nModel info")
		if res.Model.Err != nil {
			fmt.Fprintf(out, "[%s] %v\n", statusLabel(diag.Fail), res.Model.Err)
			return nil
		}
		fmt.Fprintf(out, "  loaded: %s\n  num_predict default: %s\n", yesNo(res.Model.Loaded), yesNo(res.Model.NumPredict))
		if res.Model.Parameters != "" {
			fmt.Fprintf(out, "  parameters: %s\n", strings.ReplaceAll(res.Model.Parameters, "\n", "; "))
		}
		return nil
	},
}

var (
	probeMCPConfig  string
	probeMCPAllowed string
)

var probeMCPCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start configured MCP servers, list their tools and check the tool allow-list",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFiles...)
		if err != nil {
			return err
		}
		path := firstSet(probeMCPConfig, cfg.Claude.MCPConfigPath)
		allowed := firstSet(probeMCPAllowed, cfg.Claude.AllowedTools)
		mcpCfg, err := executor.LoadMCPConfig(path)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if mcpCfg == nil {
			fmt.Fprintf(out, "[%s] no MCP config (set CLAUDE_MCP_CONFIG or --config)\n", statusLabel(diag.Warn))
		}
		rep := diag.ProbeMCP(cmd.Context(), mcpCfg, allowed, nil)
		for _, s := range rep.Servers {
			if s.Err != nil {
				fmt.Fprintf(out, "[%s] %s: %v\n", statusLabel(diag.Fail), s.Name, s.Err)
				continue
			}
			fmt.Fprintf(out, "[%s] %s (%s %s): %s\n", statusLabel(diag.Pass), s.Name, s.Server, s.Version, strings.Join(s.Tools, ", "))
		}
		failures := 0
		fmt.Fprintln(out, "\nAllowed tools")
		for _, a := range rep.Allowed {
			status := diag.Pass
			switch a.Status {
			case diag.AllowOK:
			case diag.AllowNotMCP:
				status = diag.Warn
			default:
				status = diag.Fail
				failures++
			}
			fmt.Fprintf(out, "[%s] %s: %s\n", statusLabel(status), a.Entry, a.Status)
		}
		if failures > 0 {
			return fmt.Errorf("%d allowed tool(s) not served by any MCP server", failures)
		}
		return nil
	},
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func init() {
	probeOllamaCmd.Flags().StringVar(&ollamaOpts.BaseURL, "url", diag.DefaultOllamaURL, "Ollama base URL")
	probeOllamaCmd.Flags().StringVar(&ollamaOpts.Model, "model", diag.DefaultOllamaModel, "Model name")
	probeOllamaCmd.Flags().StringVar(&ollamaOpts.Prompt, "prompt", diag.DefaultOllamaPrompt, "Prompt sent to every endpoint")
	probeOllamaCmd.Flags().IntVar(&ollamaOpts.NumPredict, "num-predict", 200, "num_predict / max_tokens for the limited requests")
	probeOllamaCmd.Flags().DurationVar(&ollamaOpts.Timeout, "timeout", 5*time.Minute, "Timeout per endpoint")

	probeMCPCmd.Flags().StringVar(&probeMCPConfig, "config", "", "MCP config file (default $CLAUDE_MCP_CONFIG)")
	probeMCPCmd.Flags().StringVar(&probeMCPAllowed, "allowed", "", "Comma-separated tool allow-list (default $CLAUDE_ALLOWED_TOOLS)")

	probeCmd.AddCommand(probeOllamaCmd, probeMCPCmd)
}
