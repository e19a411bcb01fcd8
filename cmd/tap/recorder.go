package main

import (
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Recorder appends messages to one JSON lines file per UTC day and
// compresses the previous day's file on rollover
type Recorder struct {
	outputDir   string
	currentFile *os.File
	currentDate string
	now         func() time.Time
	mu          sync.Mutex
}

// NewRecorder creates a recorder writing under outputDir
func NewRecorder(outputDir string) *Recorder {
	return &Recorder{
		outputDir: outputDir,
		now:       time.Now,
	}
}

// WriteMessage appends one message, rotating first if the day changed
func (r *Recorder) WriteMessage(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if today := r.now().UTC().Format("2006-01-02"); today != r.currentDate {
		if err := r.rotate(today); err != nil {
			return err
		}
	}

	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')
	if _, err := r.currentFile.Write(line); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// CurrentPath returns the file being written, or "" before the first write
func (r *Recorder) CurrentPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentDate == "" {
		return ""
	}
	return r.pathFor(r.currentDate)
}

// Close closes the current file
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentFile == nil {
		return nil
	}
	err := r.currentFile.Close()
	r.currentFile = nil
	return err
}

func (r *Recorder) pathFor(date string) string {
	return filepath.Join(r.outputDir, fmt.Sprintf("nmea_%s.jsonl", date))
}

// rotate closes and compresses the previous file and opens today's
func (r *Recorder) rotate(today string) error {
	if r.currentFile != nil {
		if err := r.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current file: %w", err)
		}
		r.currentFile = nil
		if err := compressFile(r.pathFor(r.currentDate)); err != nil {
			slog.Warn("Failed to compress previous recording", "error", err)
		}
	}

	//nolint:gosec // path is controlled by application logic
	file, err := os.OpenFile(r.pathFor(today), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	r.currentFile = file
	r.currentDate = today
	return nil
}

// compressFile gzips filePath next to itself and removes the original
func compressFile(filePath string) error {
	//nolint:gosec // filePath is controlled by application logic
	src, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	defer src.Close()

	//nolint:gosec // compressedPath is controlled by application logic
	dst, err := os.OpenFile(filePath+".gz", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create compressed file: %w", err)
	}

	zw := gzip.NewWriter(dst)
	zw.Name = filepath.Base(filePath)
	if _, err := io.Copy(zw, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to write compressed data: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to write compressed data: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close compressed file: %w", err)
	}

	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to remove original file: %w", err)
	}
	return nil
}
