// Package format decides how CLI output is presented on a chat platform.
//
// Classify is a pure function of the output text and the user's prompt; the
// Formatter adds the file-system aware steps (existing file paths, files the CLI
// created in its sandbox).
package format

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind is the presentation chosen for a response.
type Kind string

const (
	KindPlain     Kind = "plain"
	KindJSON      Kind = "json"
	KindYAML      Kind = "yaml"
	KindCSV       Kind = "csv"
	KindSVG       Kind = "svg"
	KindMarkdown  Kind = "markdown"
	KindImageFile Kind = "image_file"
	KindDataFile  Kind = "data_file"
)

var (
	requestRe   = regexp.MustCompile(`(?i)\b(?:as|in|to|into)\s+(json|ya?ml|csv)\b`)
	yamlKeyRe   = regexp.MustCompile(`^[A-Za-z0-9_.\-"' ]+:(\s|$)`)
	yamlItemRe  = regexp.MustCompile(`^-(\s|$)`)
	mdHeadingRe = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	mdEmphRe    = regexp.MustCompile(`\*\*[^*\n]+\*\*|__[^_\n]+__`)
	mdListRe    = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+\S`)
	mdTableRe   = regexp.MustCompile(`(?m)^\s*\|.*\|\s*$`)
)

// RequestedFormat returns "json", "yaml" or "csv" when the prompt explicitly asks
// for one ("as yaml", "in csv"), or "".
func RequestedFormat(prompt string) string {
	m := requestRe.FindStringSubmatch(prompt)
	if m == nil {
		return ""
	}
	f := strings.ToLower(m[1])
	if f == "yml" {
		f = "yaml"
	}
	return f
}

// Classify picks the presentation for text. An explicit format request in the
// prompt wins over detection when the text can be shown that way.
func Classify(text, prompt string) Kind {
	t := strings.TrimSpace(text)
	if t == "" {
		return KindPlain
	}
	switch RequestedFormat(prompt) {
	case "yaml":
		if IsJSON(t) || IsYAML(t) {
			return KindYAML
		}
	case "csv":
		if IsCSV(t) {
			return KindCSV
		}
		if IsJSON(t) {
			if _, ok := JSONToCSV(t); ok {
				return KindCSV
			}
		}
	case "json":
		if IsJSON(t) {
			return KindJSON
		}
	}

	switch {
	case IsJSON(t):
		return KindJSON
	case IsYAML(t):
		return KindYAML
	case IsCSV(t):
		return KindCSV
	case IsSVG(t):
		return KindSVG
	case IsMarkdown(t):
		return KindMarkdown
	}
	return KindPlain
}

// IsJSON reports whether t is a JSON object or array.
func IsJSON(t string) bool {
	t = strings.TrimSpace(t)
	if t == "" || (t[0] != '{' && t[0] != '[') {
		return false
	}
	return json.Valid([]byte(t))
}

// IsYAML reports whether t looks like a YAML document: a leading "---", or at least
// two `key: value` lines with every other line a list item, indented or a comment.
// The text must also parse to a mapping or sequence.
func IsYAML(t string) bool {
	t = strings.TrimSpace(t)
	if t == "" || IsJSON(t) {
		return false
	}
	explicit := strings.HasPrefix(t, "---")
	if !explicit {
		keys := 0
		for _, line := range strings.Split(t, "\n") {
			trimmed := strings.TrimRight(line, " \t\r")
			switch {
			case trimmed == "":
			case strings.HasPrefix(trimmed, "#"):
			case strings.HasPrefix(line, " "), strings.HasPrefix(line, "\t"):
			case yamlItemRe.MatchString(trimmed):
			case yamlKeyRe.MatchString(trimmed):
				keys++
			default:
				return false
			}
		}
		if keys < 2 {
			return false
		}
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(t), &doc); err != nil || len(doc.Content) == 0 {
		return false
	}
	k := doc.Content[0].Kind
	return k == yaml.MappingNode || k == yaml.SequenceNode
}

// IsCSV reports whether t has at least two lines with the same number (≥2) of
// comma separated fields.
func IsCSV(t string) bool {
	records, ok := parseCSV(t)
	return ok && len(records) >= 2
}

// IsSVG reports whether t contains an inline SVG document.
func IsSVG(t string) bool {
	_, ok := ExtractSVG(t)
	return ok
}

// ExtractSVG returns the `<svg ...>...</svg>` portion of t.
func ExtractSVG(t string) (string, bool) {
	lower := strings.ToLower(t)
	start := strings.Index(lower, "<svg")
	end := strings.LastIndex(lower, "</svg>")
	if start < 0 || end < start {
		return "", false
	}
	return t[start : end+len("</svg>")], true
}

// IsMarkdown reports whether t uses headings, emphasis, lists or tables.
func IsMarkdown(t string) bool {
	return mdHeadingRe.MatchString(t) ||
		mdEmphRe.MatchString(t) ||
		mdTableRe.MatchString(t) ||
		mdListRe.MatchString(t)
}

func parseCSV(t string) ([][]string, bool) {
	t = strings.TrimSpace(t)
	if strings.HasPrefix(t, "<") || !strings.Contains(t, ",") || !strings.Contains(t, "\n") {
		return nil, false
	}
	r := csv.NewReader(strings.NewReader(t))
	r.FieldsPerRecord = 0
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil || len(records) == 0 || len(records[0]) < 2 {
		return nil, false
	}
	return records, true
}

// PrettyJSON indents a JSON document; invalid input is returned unchanged.
func PrettyJSON(t string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(strings.TrimSpace(t)), "", "  "); err != nil {
		return t
	}
	return buf.String()
}

// JSONToYAML re-encodes a JSON document as YAML, keeping key order.
func JSONToYAML(t string) (string, bool) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(t), &doc); err != nil {
		return "", false
	}
	clearStyle(&doc)
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", false
	}
	_ = enc.Close()
	return strings.TrimRight(buf.String(), "\n"), true
}

// JSONToCSV converts a JSON array of flat objects to CSV. Columns follow the
// first appearance of each key.
func JSONToCSV(t string) (string, bool) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(t), &doc); err != nil || len(doc.Content) == 0 {
		return "", false
	}
	seq := doc.Content[0]
	if seq.Kind != yaml.SequenceNode || len(seq.Content) == 0 {
		return "", false
	}
	var header []string
	index := map[string]int{}
	rows := make([]map[string]string, 0, len(seq.Content))
	for _, item := range seq.Content {
		if item.Kind != yaml.MappingNode {
			return "", false
		}
		row := map[string]string{}
		for i := 0; i+1 < len(item.Content); i += 2 {
			k, v := item.Content[i], item.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return "", false
			}
			if _, ok := index[k.Value]; !ok {
				index[k.Value] = len(header)
				header = append(header, k.Value)
			}
			row[k.Value] = v.Value
		}
		rows = append(rows, row)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	for _, row := range rows {
		rec := make([]string, len(header))
		for i, h := range header {
			rec[i] = row[h]
		}
		_ = w.Write(rec)
	}
	w.Flush()
	return strings.TrimRight(buf.String(), "\n"), w.Error() == nil
}

func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}
