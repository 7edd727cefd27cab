package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/KafClaw/clibridge/internal/diag"
)

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}

func statusLabel(s diag.Status) string {
	switch s {
	case diag.Pass:
		return color.GreenString("PASS")
	case diag.Warn:
		return color.YellowString("WARN")
	default:
		return color.RedString("FAIL")
	}
}

func yesNo(b bool) string {
	if b {
		return color.GreenString("yes")
	}
	return color.RedString("no")
}
