package rerender

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/learnpath/internal/model"
)

// --- モック定義 ---

type mockSource struct {
	mu      sync.Mutex
	lessons []model.Lesson
	err     error
	calls   int
	before  time.Time
	limit   int
	called  chan struct{}
}

func (m *mockSource) ListStaleRendered(ctx context.Context, before time.Time, limit int) ([]model.Lesson, error) {
	m.mu.Lock()
	m.calls++
	m.before = before
	m.limit = limit
	m.mu.Unlock()
	if m.called != nil {
		select {
		case m.called <- struct{}{}:
		default:
		}
	}
	return m.lessons, m.err
}

type mockRefresher struct {
	failIDs   map[string]bool
	delay     time.Duration
	inFlight  atomic.Int32
	maxFlight atomic.Int32

	mu        sync.Mutex
	refreshed []string
}

func (m *mockRefresher) RefreshRenderedContent(ctx context.Context, lesson *model.Lesson) (*model.RenderedContent, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxFlight.Load()
		if n <= cur || m.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	if m.failIDs[lesson.ID] {
		return nil, errors.New("render failed")
	}
	m.mu.Lock()
	m.refreshed = append(m.refreshed, lesson.ID)
	m.mu.Unlock()
	return &model.RenderedContent{Content: "<p>" + lesson.ID + "</p>", Format: model.FormatMarkdown}, nil
}

type countingRecorder struct {
	success atomic.Int32
	failure atomic.Int32
}

func (r *countingRecorder) RecordRerender(success bool) {
	if success {
		r.success.Add(1)
	} else {
		r.failure.Add(1)
	}
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func lessons(ids ...string) []model.Lesson {
	out := make([]model.Lesson, len(ids))
	for i, id := range ids {
		out[i] = model.Lesson{ID: id, Content: model.LegacyString("# " + id)}
	}
	return out
}

// --- テスト ---

func TestNewJob_Defaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockSource{}, &mockRefresher{}, newTestLogger(&buf), nil, Config{})

	if job.config.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", job.config.BatchSize, DefaultBatchSize)
	}
	if job.config.MaxConcurrency != DefaultMaxConcurrency {
		t.Errorf("MaxConcurrency = %d, want %d", job.config.MaxConcurrency, DefaultMaxConcurrency)
	}
	if job.config.Freshness != time.Hour {
		t.Errorf("Freshness = %v, want 1h", job.config.Freshness)
	}
}

func TestRunOnce_QueriesWithFreshnessCutoff(t *testing.T) {
	var buf bytes.Buffer
	src := &mockSource{}
	job := NewJob(src, &mockRefresher{}, newTestLogger(&buf), nil, Config{Freshness: 30 * time.Minute, BatchSize: 7})
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	result, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != (Result{}) {
		t.Errorf("result = %+v, want zero", result)
	}
	if want := now.Add(-30 * time.Minute); !src.before.Equal(want) {
		t.Errorf("before = %v, want %v", src.before, want)
	}
	if src.limit != 7 {
		t.Errorf("limit = %d, want 7", src.limit)
	}
}

func TestRunOnce_RefreshesAllAndCountsFailures(t *testing.T) {
	var buf bytes.Buffer
	src := &mockSource{lessons: lessons("l1", "l2", "l3", "l4")}
	ref := &mockRefresher{failIDs: map[string]bool{"l3": true}}
	rec := &countingRecorder{}
	job := NewJob(src, ref, newTestLogger(&buf), rec, Config{MaxConcurrency: 2})

	result, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Refreshed != 3 || result.Failed != 1 {
		t.Errorf("result = %+v, want 3 refreshed and 1 failed", result)
	}
	if len(ref.refreshed) != 3 {
		t.Errorf("refreshed = %v", ref.refreshed)
	}
	if rec.success.Load() != 3 || rec.failure.Load() != 1 {
		t.Errorf("recorder success=%d failure=%d, want 3 and 1", rec.success.Load(), rec.failure.Load())
	}
	if !strings.Contains(buf.String(), `"lesson_id":"l3"`) {
		t.Errorf("failure log should include lesson_id, got: %s", buf.String())
	}
}

func TestRunOnce_RespectsMaxConcurrency(t *testing.T) {
	var buf bytes.Buffer
	src := &mockSource{lessons: lessons("a", "b", "c", "d", "e", "f", "g", "h")}
	ref := &mockRefresher{delay: 10 * time.Millisecond}
	job := NewJob(src, ref, newTestLogger(&buf), nil, Config{MaxConcurrency: 3})

	if _, err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ref.maxFlight.Load(); got > 3 {
		t.Errorf("max in-flight = %d, want <= 3", got)
	}
	if len(ref.refreshed) != 8 {
		t.Errorf("refreshed %d lessons, want 8", len(ref.refreshed))
	}
}

func TestRunOnce_SourceError(t *testing.T) {
	var buf bytes.Buffer
	cause := errors.New("connection refused")
	job := NewJob(&mockSource{err: cause}, &mockRefresher{}, newTestLogger(&buf), nil, Config{})

	_, err := job.RunOnce(context.Background())
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, want wrapping %v", err, cause)
	}
}

func TestStart_InvalidSchedule(t *testing.T) {
	var buf bytes.Buffer
	src := &mockSource{}
	job := NewJob(src, &mockRefresher{}, newTestLogger(&buf), nil, Config{})

	if err := job.Start(context.Background(), "not a schedule"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if src.calls != 0 {
		t.Errorf("source called %d times, want 0", src.calls)
	}
}

func TestStart_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	src := &mockSource{called: make(chan struct{}, 1)}
	job := NewJob(src, &mockRefresher{}, newTestLogger(&buf), nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- job.Start(ctx, "@every 1h") }()

	select {
	case <-src.called:
	case <-time.After(2 * time.Second):
		t.Fatal("job should run once right after start")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start should return after context cancellation")
	}
}
