package main

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecorder_WritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir)
	r.now = func() time.Time { return time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC) }

	if r.CurrentPath() != "" {
		t.Error("Expected no current file before the first write")
	}

	for _, msg := range []string{`{"type":"depth"}`, `{"type":"baro"}`} {
		if err := r.WriteMessage([]byte(msg)); err != nil {
			t.Fatalf("WriteMessage() failed: %v", err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	want := filepath.Join(dir, "nmea_2024-06-01.jsonl")
	if r.CurrentPath() != want {
		t.Errorf("Expected current path %s, got %s", want, r.CurrentPath())
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if string(data) != "{\"type\":\"depth\"}\n{\"type\":\"baro\"}\n" {
		t.Errorf("Unexpected file content %q", data)
	}

	// closing twice is harmless
	if err := r.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestRecorder_RotatesAndCompresses(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir)
	day := time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC)
	r.now = func() time.Time { return day }

	if err := r.WriteMessage([]byte(`{"seq":1}`)); err != nil {
		t.Fatalf("WriteMessage() failed: %v", err)
	}

	day = day.Add(2 * time.Minute)
	if err := r.WriteMessage([]byte(`{"seq":2}`)); err != nil {
		t.Fatalf("WriteMessage() failed: %v", err)
	}
	defer r.Close()

	old := filepath.Join(dir, "nmea_2024-06-01.jsonl")
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("Expected previous day's file to be removed after compression")
	}

	f, err := os.Open(old + ".gz")
	if err != nil {
		t.Fatalf("Expected compressed file: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader() failed: %v", err)
	}
	content, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if strings.TrimSpace(string(content)) != `{"seq":1}` {
		t.Errorf("Unexpected compressed content %q", content)
	}

	if !strings.HasSuffix(r.CurrentPath(), "nmea_2024-06-02.jsonl") {
		t.Errorf("Expected rotation to the next day, got %s", r.CurrentPath())
	}
}

func TestRecorder_InvalidOutputDirectory(t *testing.T) {
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, []byte("blocking file"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := NewRecorder(blocked)
	if err := r.WriteMessage([]byte(`{}`)); err == nil {
		t.Error("Expected error when the output directory is a file")
	}
}

func TestCompressFile_Missing(t *testing.T) {
	if err := compressFile(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("Expected error for a missing file")
	}
}
