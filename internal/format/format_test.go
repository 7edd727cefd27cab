package format

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Minimal PNG header so content sniffing reports image/png.
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		prompt string
		want   Kind
	}{
		{"json object", `{"a": 1, "b": [1, 2]}`, "show config", KindJSON},
		{"json array", `[{"a":1}]`, "", KindJSON},
		{"json asked as yaml", `{"a": 1}`, "give it to me as yaml", KindYAML},
		{"json asked as csv", `[{"a":1,"b":2},{"a":3,"b":4}]`, "export in CSV", KindCSV},
		{"nested json asked as csv", `{"a":{"b":1}}`, "as csv please", KindJSON},
		{"yaml document marker", "---\nname: x\n", "", KindYAML},
		{"yaml keys", "name: bridge\nversion: 2\nitems:\n  - a\n  - b", "", KindYAML},
		{"prose with one colon", "Note: the build passed.\nEverything is fine.", "", KindPlain},
		{"csv", "name,score\nann,3\nbob,4", "", KindCSV},
		{"svg", `<svg xmlns="http://www.w3.org/2000/svg"><circle r="4"/></svg>`, "", KindSVG},
		{"markdown heading", "# Title\n\nSome text", "", KindMarkdown},
		{"markdown emphasis", "This is **important**.", "", KindMarkdown},
		{"plain", "just a sentence", "", KindPlain},
		{"empty", "   ", "", KindPlain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.text, tt.prompt); got != tt.want {
				t.Fatalf("Classify(%q, %q) = %s, want %s", tt.text, tt.prompt, got, tt.want)
			}
		})
	}
}

func TestValidJSONTakesJSONPathUnlessOverridden(t *testing.T) {
	docs := []string{`{"k":"v"}`, `[1,2,3]`, `{"nested":{"list":[true,null]}}`}
	for _, d := range docs {
		if got := Classify(d, "what is it"); got != KindJSON {
			t.Errorf("Classify(%q) = %s, want json", d, got)
		}
		if got := Classify(d, "return it as yaml"); got != KindYAML {
			t.Errorf("Classify(%q, as yaml) = %s, want yaml", d, got)
		}
	}
}

func TestMarkdownTable(t *testing.T) {
	got, ok := MarkdownTable("name,score\nann,3\nbob,4")
	if !ok {
		t.Fatal("expected a table")
	}
	want := "| name | score |\n| --- | --- |\n| ann | 3 |\n| bob | 4 |"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkdownTableLimits(t *testing.T) {
	var rows []string
	for i := 0; i < 11; i++ {
		rows = append(rows, "a,b")
	}
	if _, ok := MarkdownTable(strings.Join(rows, "\n")); ok {
		t.Fatal("11 lines must not become a table")
	}
	if _, ok := MarkdownTable("a,b,c,d,e,f\n1,2,3,4,5,6"); ok {
		t.Fatal("6 columns must not become a table")
	}
	if _, ok := MarkdownTable(strings.Join(rows[:10], "\n")); !ok {
		t.Fatal("10 lines should become a table")
	}
}

func TestFormatLargeCSVIsBlock(t *testing.T) {
	var rows []string
	for i := 0; i < 12; i++ {
		rows = append(rows, "x,y")
	}
	resp := Formatter{}.Format(strings.Join(rows, "\n"), "", nil)
	if resp.Kind != KindCSV || !resp.Block || resp.Lang != "csv" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestFormatJSONToYAML(t *testing.T) {
	resp := Formatter{}.Format(`{"name":"bridge","ports":[80,443]}`, "show this as yaml", nil)
	if resp.Kind != KindYAML || resp.Lang != "yaml" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	want := "name: bridge\nports:\n  - 80\n  - 443"
	if diff := cmp.Diff(want, resp.Text); diff != "" {
		t.Fatalf("yaml mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatJSONToCSVTable(t *testing.T) {
	resp := Formatter{}.Format(`[{"id":"1","name":"a"},{"id":"2","name":"b"}]`, "list them as csv", nil)
	want := "| id | name |\n| --- | --- |\n| 1 | a |\n| 2 | b |"
	if resp.Kind != KindCSV || resp.Text != want {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestFormatUntabulatableJSONAsCSVStaysJSON(t *testing.T) {
	resp := Formatter{}.Format(`{"a":{"b":1}}`, "as csv please", nil)
	want := "{\n  \"a\": {\n    \"b\": 1\n  }\n}"
	if resp.Kind != KindJSON || resp.Lang != "json" || !resp.Block || resp.Text != want {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestFormatSVGBecomesFile(t *testing.T) {
	resp := Formatter{}.Format("```svg\n<svg><rect/></svg>\n```", "", nil)
	if resp.Kind != KindSVG || len(resp.Files) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if string(resp.Files[0].Content) != "<svg><rect/></svg>" || !resp.Files[0].Image {
		t.Fatalf("unexpected file: %+v", resp.Files[0])
	}
	if resp.Text != "" {
		t.Fatalf("fence residue should be dropped, got %q", resp.Text)
	}
}

func TestFormatImagePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chart.png")
	if err := os.WriteFile(path, pngBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	resp := Formatter{BaseDir: dir}.Format(path+"\n", "", nil)
	if resp.Kind != KindImageFile || len(resp.Files) != 1 || !resp.Files[0].Image {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Files[0].MIME != "image/png" {
		t.Fatalf("mime = %q", resp.Files[0].MIME)
	}
	if resp.Text != "" {
		t.Fatalf("image upload should carry no text, got %q", resp.Text)
	}

	rel := Formatter{BaseDir: dir}.Format("chart.png", "", nil)
	if rel.Kind != KindImageFile {
		t.Fatalf("relative path should resolve against base: %+v", rel)
	}
}

func TestFormatDataPathInlineAndAttachment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.csv")
	if err := os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	resp := Formatter{BaseDir: dir}.Format("report.csv", "", nil)
	if resp.Kind != KindDataFile || !resp.Block || resp.Lang != "csv" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Text != "a,b\n1,2" || len(resp.Files) != 1 || resp.Files[0].Name != "report.csv" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestFormatPathOutsideBaseIsText(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "secret.json")
	if err := os.WriteFile(outside, []byte(`{"k":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	resp := Formatter{BaseDir: t.TempDir()}.Format(outside, "", nil)
	if len(resp.Files) != 0 {
		t.Fatalf("file outside base must not be attached: %+v", resp)
	}
}

func TestFormatCreatedFilesAndAnnouncementSuppressed(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "diagram.png")
	src := filepath.Join(dir, "diagram.mmd")
	if err := os.WriteFile(img, pngBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("graph TD; A-->B"), 0o644); err != nil {
		t.Fatal(err)
	}
	resp := Formatter{BaseDir: dir}.Format("I created diagram.png for you.", "draw it", []string{img, src})
	if len(resp.Files) != 1 || resp.Files[0].Name != "diagram.png" {
		t.Fatalf("files = %+v", resp.Files)
	}
	if resp.Text != "" {
		t.Fatalf("announcement should be suppressed, got %q", resp.Text)
	}

	long := strings.Repeat("details ", 80) + "diagram.png"
	resp = Formatter{BaseDir: dir}.Format(long, "draw it", []string{img})
	if resp.Text == "" {
		t.Fatal("long text must be kept")
	}
}

func TestFormatAnnouncementWithContentIsKept(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "chart.png")
	data := filepath.Join(dir, "totals.csv")
	if err := os.WriteFile(img, pngBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(data, []byte("q,total\nq3,40\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	created := []string{img, data}

	cases := []struct {
		name string
		out  string
		keep bool
	}{
		{"names one of two files", "Saved chart.png. Note: Q3 revenue dropped 40% because the EU feed was missing two weeks of data.", true},
		{"names both with findings", "Saved chart.png and totals.csv. Note: Q3 revenue dropped 40% because the EU feed was missing two weeks of data.", true},
		{"names only one file", "I created chart.png for you.", true},
		{"announces both files", "I've created chart.png and totals.csv in the current directory.", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resp := Formatter{BaseDir: dir}.Format(c.out, "plot q3", created)
			if len(resp.Files) != 2 {
				t.Fatalf("files = %d, want 2", len(resp.Files))
			}
			if kept := resp.Text != ""; kept != c.keep {
				t.Fatalf("text kept = %v, want %v (text %q)", kept, c.keep, resp.Text)
			}
		})
	}
}

func TestFormatEmptyOutput(t *testing.T) {
	resp := Formatter{}.Format("  \n", "", nil)
	if resp.Text != "(no output)" || resp.Block {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestFormatPlainIsBlock(t *testing.T) {
	resp := Formatter{}.Format("hello there", "", nil)
	if resp.Kind != KindPlain || !resp.Block || resp.Text != "hello there" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
