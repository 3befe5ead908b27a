package audit

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/wasmcmd-dev/wasmcmd/domain/ports"
)

// MemorySink collects events in memory. Used in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []ports.AuditEvent
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

var _ ports.AuditSink = (*MemorySink)(nil)

func (s *MemorySink) Record(_ context.Context, event ports.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Events returns a copy of everything recorded so far.
func (s *MemorySink) Events() []ports.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

// NullSink discards everything.
type NullSink struct{}

func NewNullSink() NullSink { return NullSink{} }

var _ ports.AuditSink = NullSink{}

func (NullSink) Record(context.Context, ports.AuditEvent) error { return nil }
func (NullSink) Close() error                                   { return nil }

// LoggerSink mirrors rulings to the debug log.
type LoggerSink struct {
	logger *zap.Logger
}

func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

var _ ports.AuditSink = (*LoggerSink)(nil)

func (s *LoggerSink) Record(_ context.Context, event ports.AuditEvent) error {
	s.logger.Debug("permission ruling",
		zap.String("subject", event.Subject),
		zap.String("kind", event.Kind),
		zap.String("pattern", event.Pattern),
		zap.String("verdict", event.Verdict),
		zap.String("source", event.Source),
		zap.String("strategy", event.Strategy),
	)
	return nil
}

func (s *LoggerSink) Close() error { return nil }

// Composite fans events out to multiple sinks. Record keeps going on
// error and returns the joined failures.
type Composite struct {
	sinks []ports.AuditSink
}

func NewComposite(sinks ...ports.AuditSink) *Composite {
	return &Composite{sinks: sinks}
}

var _ ports.AuditSink = (*Composite)(nil)

func (c *Composite) Record(ctx context.Context, event ports.AuditEvent) error {
	var errs []error
	for _, s := range c.sinks {
		if err := s.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Composite) Close() error {
	var errs []error
	for _, s := range c.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
