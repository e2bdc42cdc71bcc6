package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseScheduleErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
	} {
		if _, err := ParseSchedule(expr); err == nil {
			t.Errorf("ParseSchedule(%q) succeeded", expr)
		}
	}
}

func TestScheduleNext(t *testing.T) {
	// 2026-01-14 is a Wednesday.
	from := time.Date(2026, 1, 14, 10, 7, 30, 0, time.UTC)
	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 1, 14, 10, 8, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 1, 14, 10, 15, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC)},
		{"30 9 * * 1-5", time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2026, 1, 18, 0, 0, 0, 0, time.UTC)},
		{"0 12 20 * 4", time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)},
		{"0,30 10 * * *", time.Date(2026, 1, 14, 10, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		s, err := ParseSchedule(tt.expr)
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tt.expr, err)
		}
		got, err := s.Next(from)
		if err != nil {
			t.Fatalf("Next(%q): %v", tt.expr, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("Next(%q) = %s, want %s", tt.expr, got, tt.want)
		}
	}
}

func TestScheduleNextImpossible(t *testing.T) {
	s, err := ParseSchedule("0 0 31 2 *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := s.Next(time.Now()); err == nil {
		t.Fatal("expected no trigger for Feb 31")
	}
}

type recordingArchiver struct {
	before []time.Time
	err    error
}

func (r *recordingArchiver) ArchiveEvents(_ context.Context, before time.Time) (int64, error) {
	r.before = append(r.before, before)
	return 7, r.err
}

func (r *recordingArchiver) ExportSession(context.Context, domain.Session) (string, error) {
	return "", nil
}

func TestRetentionRunUsesCutoff(t *testing.T) {
	arch := &recordingArchiver{}
	r := NewRetention(arch, 30, discard())
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	n, err := r.Run(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("run = %d, %v", n, err)
	}
	want := now.Add(-30 * 24 * time.Hour)
	if len(arch.before) != 1 || !arch.before[0].Equal(want) {
		t.Fatalf("cutoffs = %v, want %s", arch.before, want)
	}

	arch.err = errors.New("bucket gone")
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRetentionCronRejectsBadSchedule(t *testing.T) {
	r := NewRetention(&recordingArchiver{}, 0, discard())
	if err := r.RunCron(context.Background(), "nope"); err == nil {
		t.Fatal("expected parse error")
	}
}

type blockingLoop struct{ started chan struct{} }

func (b blockingLoop) Run(ctx context.Context) error {
	close(b.started)
	<-ctx.Done()
	return ctx.Err()
}

type failingLoop struct{}

func (failingLoop) Run(context.Context) error { return errors.New("store unreachable") }

func TestOrchestratorStopsCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := blockingLoop{started: make(chan struct{})}
	o := NewOrchestrator(loop, NewRetention(&recordingArchiver{}, 30, discard()), "0 3 * * *", discard())

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	<-loop.started
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}

func TestOrchestratorReportsFailure(t *testing.T) {
	o := NewOrchestrator(failingLoop{}, nil, "", discard())
	if err := o.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
