package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kubilitics/kubilitics-reasoner/internal/config"
	"github.com/kubilitics/kubilitics-reasoner/internal/logging"
	"github.com/kubilitics/kubilitics-reasoner/internal/metrics"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// Package audit writes the reasoning audit trail as JSON lines.
//
// Responsibilities:
//   - Receive router audit records (it is an engine audit sink)
//   - Record prompt lifecycle and configuration events
//   - Buffer events and flush them on size, interval, Sync and Close
//   - Rotate the audit file through lumberjack

// ErrClosed is returned by Log after Close.
var ErrClosed = errors.New("audit logger closed")

// Logger is a buffered audit logger.
type Logger struct {
	audit  *zap.Logger
	closer func() error
	app    *zap.Logger

	mu          sync.Mutex
	buffer      []*Event
	size        int
	closed      bool
	flushTicker *time.Ticker
	stopCh      chan struct{}
	done        chan struct{}
}

// New creates an audit logger writing to cfg.File with rotation.
func New(cfg config.AuditConfig, app *zap.Logger) (*Logger, error) {
	if cfg.File == "" {
		return nil, errors.New("audit file is required")
	}
	rot := logging.Rotator(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays, true)
	l := NewWithSink(cfg, zapcore.AddSync(rot), app)
	l.closer = rot.Close
	return l, nil
}

// NewWithSink creates an audit logger writing to sink.
func NewWithSink(cfg config.AuditConfig, sink zapcore.WriteSyncer, app *zap.Logger) *Logger {
	if app == nil {
		app = zap.NewNop()
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 100
	}
	interval := time.Duration(cfg.FlushIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	enc := logging.EncoderConfig()
	enc.CallerKey = ""
	enc.StacktraceKey = ""
	// Audit logs are always INFO level.
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), sink, zapcore.InfoLevel)

	l := &Logger{
		audit:       zap.New(core, zap.ErrorOutput(zapcore.AddSync(dropCounter{}))),
		app:         app,
		buffer:      make([]*Event, 0, size),
		size:        size,
		flushTicker: time.NewTicker(interval),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	go l.autoFlush()
	return l
}

// Emit records one reasoning call.
func (l *Logger) Emit(ctx context.Context, rec types.AuditRecord) error {
	return l.Log(ctx, FromRecord(rec))
}

// Log buffers an audit event.
func (l *Logger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		metrics.AuditEventsDropped.Inc()
		return ErrClosed
	}
	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= l.size {
		l.flushLocked()
	}
	return nil
}

// flushLocked writes the buffer (caller must hold lock)
func (l *Logger) flushLocked() {
	for _, event := range l.buffer {
		l.audit.Info(string(event.EventType), zap.Inline(event))
	}
	clear(l.buffer)
	l.buffer = l.buffer[:0]
}

// autoFlush periodically flushes the buffer
func (l *Logger) autoFlush() {
	defer close(l.done)
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogConfigChanged records a configuration reload.
func (l *Logger) LogConfigChanged(ctx context.Context, source string) error {
	event := NewEvent(EventConfigChanged).
		WithMetadata("source", source).
		WithDescription(fmt.Sprintf("Configuration reloaded from %s", source))
	return l.Log(ctx, event)
}

// LogTemplateOptimized records an optimizer pass that produced a new version.
func (l *Logger) LogTemplateOptimized(ctx context.Context, templateID string, version int, variables map[string]string) error {
	event := NewEvent(EventTemplateOptimized).
		WithMetadata("template_id", templateID).
		WithMetadata("version", version).
		WithMetadata("variables", variables).
		WithDescription(fmt.Sprintf("Template %s optimized to version %d", templateID, version))
	return l.Log(ctx, event)
}

// LogABTestCreated records a new A/B test.
func (l *Logger) LogABTestCreated(ctx context.Context, testID, templateA, templateB string) error {
	event := NewEvent(EventABTestCreated).
		WithMetadata("test_id", testID).
		WithMetadata("template_a", templateA).
		WithMetadata("template_b", templateB).
		WithDescription(fmt.Sprintf("A/B test %s started: %s vs %s", testID, templateA, templateB))
	return l.Log(ctx, event)
}

// LogABTestConcluded records an A/B verdict. An empty winner means no
// significant difference.
func (l *Logger) LogABTestConcluded(ctx context.Context, testID, winner string, confidence float64) error {
	event := NewEvent(EventABTestConcluded).
		WithMetadata("test_id", testID).
		WithMetadata("confidence", confidence)
	if winner == "" {
		event.WithDescription(fmt.Sprintf("A/B test %s concluded without a winner", testID))
	} else {
		event.WithMetadata("winner", winner).
			WithDescription(fmt.Sprintf("A/B test %s won by %s", testID, winner))
	}
	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
	return l.audit.Sync()
}

// Close flushes and closes the audit logger. It is safe to call twice.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stopCh)
	l.flushTicker.Stop()
	<-l.done

	l.mu.Lock()
	l.flushLocked()
	err := l.audit.Sync()
	l.mu.Unlock()

	if l.closer != nil {
		if cerr := l.closer(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	if err != nil {
		l.app.Warn("audit log close failed", zap.Error(err))
	}
	return err
}

// dropCounter receives zap's internal write errors; each one is a lost line.
type dropCounter struct{}

func (dropCounter) Write(p []byte) (int, error) {
	metrics.AuditEventsDropped.Inc()
	return len(p), nil
}
