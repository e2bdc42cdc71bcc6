package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/bertrand/internal/domain"
	"github.com/alanyoungcy/bertrand/internal/store/memory"
)

// bucket is an in-memory BlobWriter and BlobReader.
type bucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newBucket() *bucket { return &bucket{objects: map[string][]byte{}} }

func (b *bucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if b.failPut {
		return errors.New("upload refused")
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = raw
	return nil
}

func (b *bucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, jsonlContentType)
}

func (b *bucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *bucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.BlobInfo
	for p, raw := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(raw))})
		}
	}
	return out, nil
}

func (b *bucket) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func lines(t *testing.T, raw []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad jsonl line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestEventArchivePath(t *testing.T) {
	before := time.Date(2026, 1, 19, 3, 0, 0, 0, time.UTC)
	want := "archive/events/2026-01/events-20260119T030000Z.jsonl"
	if got := eventArchivePath(before); got != want {
		t.Fatalf("path = %q, want %q", got, want)
	}
}

func TestArchiveEventsMovesOldEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	b := newBucket()
	a := NewArchiver(b, b, store, discard())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, day := range []int{0, 5, 40} {
		_ = store.LogEvent(ctx, domain.GameEvent{
			SessionID: "s1",
			Action:    "autopilot_end_round",
			Status:    domain.EventStatusSuccess,
			Details:   map[string]any{"round": i + 1},
			CreatedAt: base.AddDate(0, 0, day),
		})
	}

	cutoff := base.AddDate(0, 0, 30)
	n, err := a.ArchiveEvents(ctx, cutoff)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived = %d, want 2", n)
	}

	raw, ok := b.objects[eventArchivePath(cutoff)]
	if !ok {
		t.Fatalf("archive object missing; have %v", b.objects)
	}
	if got := lines(t, raw); len(got) != 2 || got[0]["session_id"] != "s1" {
		t.Fatalf("archived lines = %v", got)
	}

	left, _ := store.ListBefore(ctx, cutoff)
	if len(left) != 0 {
		t.Fatalf("old events still in store: %d", len(left))
	}
	all, _ := store.ListEvents(ctx, "", domain.ListOpts{})
	var sawArchive, sawNewest bool
	for _, e := range all {
		sawArchive = sawArchive || e.Action == "archive_events"
		sawNewest = sawNewest || e.CreatedAt.Equal(base.AddDate(0, 0, 40))
	}
	if !sawArchive || !sawNewest {
		t.Fatalf("event log after archive = %+v", all)
	}
}

func TestArchiveEventsNothingToDo(t *testing.T) {
	b := newBucket()
	a := NewArchiver(b, b, memory.New(), discard())
	n, err := a.ArchiveEvents(context.Background(), time.Now())
	if err != nil || n != 0 {
		t.Fatalf("archive = %d, %v", n, err)
	}
	if len(b.objects) != 0 {
		t.Fatalf("unexpected uploads: %v", b.objects)
	}
}

func TestArchiveEventsKeepsEventsWhenUploadFails(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	b := newBucket()
	b.failPut = true
	a := NewArchiver(b, b, store, discard())

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = store.LogEvent(ctx, domain.GameEvent{SessionID: "s1", Action: "end_round", CreatedAt: old})

	if _, err := a.ArchiveEvents(ctx, old.AddDate(0, 1, 0)); err == nil {
		t.Fatal("expected error")
	}
	left, _ := store.ListBefore(ctx, old.AddDate(0, 1, 0))
	if len(left) != 1 {
		t.Fatalf("events deleted despite failed upload: %d left", len(left))
	}
}

func TestExportSession(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	b := newBucket()
	a := NewArchiver(b, b, store, discard())

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = store.LogEvent(ctx, domain.GameEvent{SessionID: "s1", Action: "end_round", CreatedAt: t0})
	_ = store.LogEvent(ctx, domain.GameEvent{SessionID: "s1", Action: "game_ended", CreatedAt: t0.Add(time.Minute)})
	_ = store.LogEvent(ctx, domain.GameEvent{SessionID: "s2", Action: "end_round", CreatedAt: t0})

	sess := domain.Session{
		ID:     "s1",
		Name:   "friday lab",
		Status: domain.SessionStatusCompleted,
		State: domain.GameState{
			Players: map[string]domain.Player{"alice": {Name: "alice"}, "bob": {Name: "bob"}},
			RoundHistory: []domain.RoundResult{
				{Round: 1, Bids: map[string]float64{"alice": 60, "bob": 80}},
				{Round: 2, Bids: map[string]float64{"alice": 70, "bob": 70}},
			},
		},
	}
	path, err := a.ExportSession(ctx, sess)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if path != "archive/sessions/s1.jsonl" {
		t.Fatalf("path = %q", path)
	}

	got := lines(t, b.objects[path])
	kinds := make([]string, len(got))
	for i, l := range got {
		kinds[i], _ = l["kind"].(string)
	}
	want := []string{"session", "round", "round", "event", "event"}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	first := got[3]["event"].(map[string]any)
	if first["action"] != "end_round" {
		t.Fatalf("events not oldest first: %v", got[3])
	}

	exports, err := a.ListExports(ctx)
	if err != nil || len(exports) != 1 || exports[0].Path != path {
		t.Fatalf("exports = %+v, %v", exports, err)
	}
}
