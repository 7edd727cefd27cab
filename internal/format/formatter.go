package format

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// announceLimit is the longest text that is dropped when it only announces
// files that are being uploaded anyway.
const announceLimit = 400

// announceExtraWords is how many words besides the file names an announcement
// may carry, as in "I saved the chart to the current directory".
const announceExtraWords = 10

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)?`)

// maxFileBytes caps a single uploaded file.
const maxFileBytes = 20 << 20

var (
	imageExts  = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true}
	dataExts   = map[string]string{".csv": "csv", ".json": "json", ".yaml": "yaml", ".yml": "yaml"}
	sourceExts = map[string]bool{".mmd": true, ".dot": true, ".puml": true, ".plantuml": true, ".d2": true}
)

// File is an attachment to upload alongside (or instead of) the text.
type File struct {
	Name    string
	Path    string
	MIME    string
	Content []byte
	Image   bool
}

// Response is a formatted reply. When Block is set, Text is shown as a literal
// code block tagged with Lang.
type Response struct {
	Kind  Kind
	Text  string
	Block bool
	Lang  string
	Files []File
}

// Empty reports whether there is nothing to send.
func (r Response) Empty() bool { return strings.TrimSpace(r.Text) == "" && len(r.Files) == 0 }

// Formatter builds responses. BaseDir bounds which existing files may be attached
// when the output is a path; empty means the process working directory.
type Formatter struct {
	BaseDir string
}

// Format builds the response for output. created lists files the CLI wrote during
// the run; diagram sources among them are skipped.
func (f Formatter) Format(output, prompt string, created []string) Response {
	text := strings.TrimSpace(output)

	if resp, ok := f.fromPath(text); ok {
		return resp
	}

	resp := render(text, prompt)
	uploaded := f.attachCreated(&resp, created)
	if len(uploaded) > 0 && announcesOnly(resp, uploaded) {
		resp.Text = ""
		resp.Block = false
	}
	if resp.Empty() {
		resp = Response{Kind: KindPlain, Text: "(no output)"}
	}
	return resp
}

func render(text, prompt string) Response {
	kind := Classify(text, prompt)
	switch kind {
	case KindJSON:
		return Response{Kind: kind, Text: PrettyJSON(text), Block: true, Lang: "json"}
	case KindYAML:
		body := text
		if IsJSON(text) {
			if y, ok := JSONToYAML(text); ok {
				body = y
			}
		}
		return Response{Kind: kind, Text: body, Block: true, Lang: "yaml"}
	case KindCSV:
		body := text
		if !IsCSV(text) {
			if c, ok := JSONToCSV(text); ok {
				body = c
			}
		}
		if table, ok := MarkdownTable(body); ok {
			return Response{Kind: kind, Text: table}
		}
		return Response{Kind: kind, Text: body, Block: true, Lang: "csv"}
	case KindSVG:
		svg, _ := ExtractSVG(text)
		rest := strings.TrimSpace(strings.Replace(text, svg, "", 1))
		rest = strings.TrimSpace(strings.Trim(rest, "`"))
		if strings.EqualFold(rest, "svg") || strings.EqualFold(rest, "xml") {
			rest = ""
		}
		return Response{Kind: kind, Text: rest, Files: []File{{
			Name:    "image.svg",
			MIME:    "image/svg+xml",
			Content: []byte(svg),
			Image:   true,
		}}}
	case KindMarkdown:
		return Response{Kind: kind, Text: text}
	}
	return Response{Kind: KindPlain, Text: text, Block: text != ""}
}

// fromPath handles output that is nothing but the path of an existing file.
func (f Formatter) fromPath(text string) (Response, bool) {
	if text == "" || strings.ContainsAny(text, "\n\r") || len(text) > 4096 {
		return Response{}, false
	}
	candidate := strings.Trim(text, "`'\" ")
	ext := strings.ToLower(filepath.Ext(candidate))
	lang, isData := dataExts[ext]
	if !imageExts[ext] && !isData {
		return Response{}, false
	}
	root := f.root()
	path := candidate
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	if !within(root, path) {
		return Response{}, false
	}
	file, ok := readFile(path)
	if !ok {
		return Response{}, false
	}
	if imageExts[ext] {
		file.Image = true
		return Response{Kind: KindImageFile, Files: []File{file}}, true
	}
	return Response{
		Kind:  KindDataFile,
		Text:  strings.TrimRight(string(file.Content), "\n"),
		Block: true,
		Lang:  lang,
		Files: []File{file},
	}, true
}

func (f Formatter) attachCreated(resp *Response, created []string) []string {
	var names []string
	for _, p := range created {
		if sourceExts[strings.ToLower(filepath.Ext(p))] {
			continue
		}
		file, ok := readFile(p)
		if !ok {
			continue
		}
		resp.Files = append(resp.Files, file)
		names = append(names, file.Name)
	}
	return names
}

func (f Formatter) root() string {
	if f.BaseDir != "" {
		return f.BaseDir
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

func readFile(path string) (File, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() > maxFileBytes {
		return File{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, false
	}
	mt := mimetype.Detect(data)
	image := strings.HasPrefix(mt.String(), "image/")
	if strings.EqualFold(filepath.Ext(path), ".svg") {
		image = true
	}
	return File{
		Name:    filepath.Base(path),
		Path:    path,
		MIME:    mt.String(),
		Content: data,
		Image:   image,
	}, true
}

// announcesOnly reports whether the text is a short note that names every
// uploaded file and says little else.
func announcesOnly(resp Response, names []string) bool {
	if resp.Text == "" || resp.Kind != KindPlain && resp.Kind != KindMarkdown {
		return false
	}
	if utf8.RuneCountInString(resp.Text) > announceLimit {
		return false
	}
	rest := strings.ToLower(resp.Text)
	for _, n := range names {
		n = strings.ToLower(n)
		if !strings.Contains(rest, n) {
			return false
		}
		rest = strings.ReplaceAll(rest, n, " ")
	}
	return len(wordRe.FindAllString(rest, -1)) <= announceExtraWords
}

func within(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if r, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = r
	}
	if p, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = p
	}
	rel, err := filepath.Rel(absRoot, absPath)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
