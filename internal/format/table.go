package format

import "strings"

// Limits for rendering CSV as a Markdown table.
const (
	MaxTableLines   = 10
	MaxTableColumns = 5
)

// MarkdownTable renders small CSV text as a Markdown table whose first line is the
// header. It reports false when the text is not CSV or is too large.
func MarkdownTable(text string) (string, bool) {
	records, ok := parseCSV(text)
	if !ok || len(records) < 2 || len(records) > MaxTableLines || len(records[0]) > MaxTableColumns {
		return "", false
	}
	var b strings.Builder
	writeRow(&b, records[0])
	sep := make([]string, len(records[0]))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(&b, sep)
	for _, rec := range records[1:] {
		writeRow(&b, rec)
	}
	return strings.TrimRight(b.String(), "\n"), true
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" ")
		b.WriteString(strings.ReplaceAll(strings.TrimSpace(c), "|", `\|`))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}
