package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/kubilitics/kubilitics-reasoner/internal/config"
	"github.com/kubilitics/kubilitics-reasoner/internal/metrics"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func testConfig() config.AuditConfig {
	return config.AuditConfig{Enabled: true, BufferSize: 10, FlushIntervalMS: 60_000}
}

func record(success bool, kind types.ErrorKind) types.AuditRecord {
	return types.AuditRecord{
		QuestionID:      "q-1",
		FinalPromptText: "Solve 2x + 3 = 7",
		ReasoningType:   types.StrategyMathematical,
		Steps: []types.Step{
			{ID: 1, Description: "Isolate the variable term", Output: "2x = 4", Confidence: 0.95},
		},
		Confidence: 0.95,
		Success:    success,
		ErrorKind:  kind,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestEmitBuffersUntilSync(t *testing.T) {
	sink := &syncBuffer{}
	l := NewWithSink(testConfig(), sink, nil)
	defer l.Close()

	require.NoError(t, l.Emit(context.Background(), record(true, "")))
	assert.Empty(t, sink.lines(t), "events stay buffered until flushed")

	require.NoError(t, l.Sync())
	lines := sink.lines(t)
	require.Len(t, lines, 1)

	entry := lines[0]
	assert.Equal(t, "reasoning.completed", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "q-1", entry["question_id"])
	assert.Equal(t, "MATHEMATICAL", entry["strategy"])
	assert.Equal(t, "success", entry["result"])
	assert.Equal(t, 0.95, entry["confidence"])
	assert.Equal(t, "Solve 2x + 3 = 7", entry["prompt_text"])
	assert.EqualValues(t, 1, entry["step_count"])
	steps, ok := entry["steps"].([]any)
	require.True(t, ok)
	assert.Len(t, steps, 1)
	assert.NotContains(t, entry, "error_kind")
}

func TestFromRecordOutcomes(t *testing.T) {
	failed := FromRecord(record(false, types.KindSearchBudget))
	assert.Equal(t, EventReasoningFailed, failed.EventType)
	assert.Equal(t, ResultFailure, failed.Result)
	assert.Equal(t, types.KindSearchBudget, failed.ErrorKind)

	rejected := FromRecord(record(false, types.KindInputValidation))
	assert.Equal(t, EventReasoningRejected, rejected.EventType)
	assert.Equal(t, ResultDenied, rejected.Result)

	ok := FromRecord(record(true, ""))
	assert.Equal(t, EventReasoningCompleted, ok.EventType)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), ok.Timestamp)
}

func TestFlushOnFullBuffer(t *testing.T) {
	sink := &syncBuffer{}
	cfg := testConfig()
	cfg.BufferSize = 2
	l := NewWithSink(cfg, sink, nil)
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Emit(ctx, record(true, "")))
	assert.Empty(t, sink.lines(t))
	require.NoError(t, l.Emit(ctx, record(false, types.KindTimeout)))

	lines := sink.lines(t)
	require.Len(t, lines, 2)
	assert.Equal(t, "reasoning.failed", lines[1]["message"])
	assert.Equal(t, "TimeoutError", lines[1]["error_kind"])
}

func TestFlushOnInterval(t *testing.T) {
	sink := &syncBuffer{}
	cfg := testConfig()
	cfg.FlushIntervalMS = 10
	l := NewWithSink(cfg, sink, nil)
	defer l.Close()

	require.NoError(t, l.LogConfigChanged(context.Background(), "reasoner.yaml"))
	assert.Eventually(t, func() bool { return len(sink.lines(t)) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPromptEvents(t *testing.T) {
	sink := &syncBuffer{}
	l := NewWithSink(testConfig(), sink, nil)
	ctx := context.Background()

	require.NoError(t, l.LogABTestCreated(ctx, "ab-1", "cot.step", "cot.step.v2"))
	require.NoError(t, l.LogABTestConcluded(ctx, "ab-1", "cot.step", 0.99))
	require.NoError(t, l.LogABTestConcluded(ctx, "ab-2", "", 0.4))
	require.NoError(t, l.LogTemplateOptimized(ctx, "cot.step", 2, map[string]string{"style": "Be concise."}))
	require.NoError(t, l.Close())

	lines := sink.lines(t)
	require.Len(t, lines, 4)
	assert.Equal(t, "prompt.abtest_created", lines[0]["message"])

	meta, ok := lines[1]["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cot.step", meta["winner"])
	assert.Contains(t, lines[1]["description"], "won by cot.step")

	assert.Contains(t, lines[2]["description"], "without a winner")
	assert.Equal(t, "prompt.template_optimized", lines[3]["message"])
}

func TestLogAfterCloseIsDropped(t *testing.T) {
	l := NewWithSink(testConfig(), &syncBuffer{}, nil)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	before := testutil.ToFloat64(metrics.AuditEventsDropped)
	err := l.Emit(context.Background(), record(true, ""))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AuditEventsDropped))
}

func TestNewWritesRotatedFile(t *testing.T) {
	cfg := testConfig()
	cfg.File = filepath.Join(t.TempDir(), "audit", "audit.log")
	cfg.MaxSizeMB = 1

	l, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, l.Emit(context.Background(), record(true, "")))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"question_id":"q-1"`)

	_, err = New(config.AuditConfig{}, nil)
	assert.Error(t, err)
}

var _ zapcore.WriteSyncer = (*syncBuffer)(nil)
