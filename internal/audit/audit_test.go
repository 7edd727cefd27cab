package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type recordingMirror struct {
	entries []Entry
	err     error
	closed  bool
}

func (m *recordingMirror) Publish(_ context.Context, e Entry) error {
	m.entries = append(m.entries, e)
	return m.err
}

func (m *recordingMirror) Close() error {
	m.closed = true
	return nil
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestRecordAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	l := NewLogger(path, nil, nil)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	if err := l.Record(t.Context(), Entry{Timestamp: ts, User: "U1", Channel: "C1", Prompt: "hello", AllowedTools: "t1,t2"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(t.Context(), Entry{User: "U2", Channel: "C2", Prompt: "again"}); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	first := lines[0]
	for k, want := range map[string]string{
		"user": "U1", "channel": "C1", "prompt": "hello", "allowed_tools": "t1,t2",
		"timestamp": "2026-01-02T02:04:05Z",
	} {
		if first[k] != want {
			t.Errorf("%s = %v, want %s", k, first[k], want)
		}
	}
	if lines[1]["timestamp"] == "" {
		t.Error("zero timestamp should be filled in")
	}
}

func TestRecordMirrorsAndSwallowsMirrorErrors(t *testing.T) {
	mirror := &recordingMirror{err: errors.New("broker down")}
	l := NewLogger(filepath.Join(t.TempDir(), "a.jsonl"), mirror, nil)

	if err := l.Record(t.Context(), Entry{User: "U1", Prompt: "p"}); err != nil {
		t.Fatalf("mirror failure must not fail Record: %v", err)
	}
	if len(mirror.entries) != 1 || mirror.entries[0].User != "U1" {
		t.Fatalf("mirror entries = %+v", mirror.entries)
	}
	if err := l.Close(); err != nil || !mirror.closed {
		t.Fatal("Close should close the mirror")
	}
}

func TestRecordFileError(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(dir, nil, nil)
	if err := l.Record(t.Context(), Entry{User: "U1"}); err == nil {
		t.Fatal("expected error when the audit path is a directory")
	}
}

func TestNewKafkaMirrorValidates(t *testing.T) {
	if _, err := NewKafkaMirror(nil, "t"); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewKafkaMirror([]string{"localhost:9092"}, ""); err == nil {
		t.Fatal("expected error without topic")
	}
	m, err := NewKafkaMirror([]string{"localhost:9092"}, "clibridge.audit")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
}
