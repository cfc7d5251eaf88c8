// Package sink provides append-only JSON-line log files with rotation.
// Sinks are not safe for concurrent use; the owning service serializes
// writes under its own lock.
package sink

import (
	"fmt"
	"os"
	"path/filepath"
)

// Sink is an append-only destination for single-line records.
type Sink interface {
	// WriteLine appends one record line, rotating first if required. The
	// line must not contain a newline; one is added.
	WriteLine(line []byte) error
	Close() error
}

// AppendFile is a Sink without rotation, for streams whose growth is
// bounded elsewhere.
type AppendFile struct {
	file *os.File
}

func NewAppendFile(path string) (*AppendFile, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &AppendFile{file: f}, nil
}

func (a *AppendFile) WriteLine(line []byte) error {
	if _, err := a.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write log line: %w", err)
	}
	return nil
}

func (a *AppendFile) Close() error {
	return a.file.Close()
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
