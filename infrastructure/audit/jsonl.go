// Package audit records permission rulings. The file sink appends one
// JSON object per line so logs can be tailed and post-processed with
// standard tooling.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wasmcmd-dev/wasmcmd/domain/ports"
)

// fileSinkConfig holds configuration for the FileSink.
type fileSinkConfig struct {
	path     string
	dirPerm  os.FileMode
	filePerm os.FileMode
	now      func() time.Time
}

func defaultFileSinkConfig() fileSinkConfig {
	return fileSinkConfig{
		path:     filepath.Join(os.Getenv("HOME"), ".wasmcmd", "audit.jsonl"),
		dirPerm:  0o755,
		filePerm: 0o600,
		now:      time.Now,
	}
}

// FileSinkOption configures a FileSink instance.
type FileSinkOption func(*fileSinkConfig)

// WithPath sets the path to the audit log.
func WithPath(path string) FileSinkOption {
	return func(c *fileSinkConfig) {
		c.path = path
	}
}

// WithClock overrides the timestamp source. Used in tests.
func WithClock(now func() time.Time) FileSinkOption {
	return func(c *fileSinkConfig) {
		c.now = now
	}
}

// FileSink appends audit events to a JSONL file.
type FileSink struct {
	config fileSinkConfig

	mu   sync.Mutex
	file *os.File
}

// NewFileSink creates a FileSink with the given options. The file is
// opened lazily on the first Record.
func NewFileSink(opts ...FileSinkOption) *FileSink {
	cfg := defaultFileSinkConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FileSink{config: cfg}
}

var _ ports.AuditSink = (*FileSink)(nil)

func (s *FileSink) ensureOpen() error {
	if s.file != nil {
		return nil
	}
	dir := filepath.Dir(s.config.path)
	if err := os.MkdirAll(dir, s.config.dirPerm); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(s.config.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, s.config.filePerm)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	s.file = f
	return nil
}

// Record appends one event. Missing ID and Timestamp fields are filled
// in before writing.
func (s *FileSink) Record(_ context.Context, event ports.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.config.now().UTC()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
