package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// sessionExportPrefix is where ExportSession writes, relative to the client prefix.
const sessionExportPrefix = "archive/sessions/"

// Archiver implements domain.Archiver. Expired game events are moved to the
// bucket as JSONL and removed from the primary store only after the upload
// has been confirmed.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	events domain.EventLog
	now    func() time.Time
	logger *slog.Logger
}

// NewArchiver creates an Archiver. reader may be nil, in which case uploads
// are not verified before the source events are deleted.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, events domain.EventLog, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		events: events,
		now:    time.Now,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveEvents uploads every event older than before and deletes them from
// the event log. It returns the number of events archived.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	evs, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events: list: %w", err)
	}
	if len(evs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(evs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events: %w", err)
	}
	path := eventArchivePath(before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive events: %w", err)
	}
	if a.reader != nil {
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive events: verify: %w", err)
		}
		if !ok {
			return 0, fmt.Errorf("s3blob: archive events: %s missing after upload", path)
		}
	}

	deleted, err := a.events.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events: delete: %w", err)
	}
	if deleted != int64(len(evs)) {
		a.logger.WarnContext(ctx, "archived and deleted event counts differ",
			slog.Int("archived", len(evs)),
			slog.Int64("deleted", deleted),
		)
	}

	a.logger.InfoContext(ctx, "game events archived",
		slog.String("path", path),
		slog.Int("count", len(evs)),
		slog.Time("before", before),
	)
	_ = a.events.LogEvent(ctx, domain.GameEvent{
		Action:    "archive_events",
		Status:    domain.EventStatusSuccess,
		Details:   map[string]any{"path": path, "count": len(evs), "before": before.UTC().Format(time.RFC3339)},
		CreatedAt: a.now().UTC(),
	})
	return int64(len(evs)), nil
}

// exportRecord is one line of a session export.
type exportRecord struct {
	Kind    string              `json:"kind"`
	Session *sessionHeader      `json:"session,omitempty"`
	Round   *domain.RoundResult `json:"round,omitempty"`
	Event   *domain.GameEvent   `json:"event,omitempty"`
}

type sessionHeader struct {
	ID          string                        `json:"id"`
	Name        string                        `json:"name"`
	Status      domain.SessionStatus          `json:"status"`
	Config      domain.GameConfig             `json:"config"`
	Players     []string                      `json:"players"`
	PlayerStats map[string]domain.PlayerStats `json:"player_stats"`
	Rivalries   map[string][]string           `json:"rivalries"`
	CreatedAt   time.Time                     `json:"created_at"`
	ExportedAt  time.Time                     `json:"exported_at"`
}

// ExportSession writes the session header, its round history and its event
// log to archive/sessions/<id>.jsonl and returns that path.
func (a *Archiver) ExportSession(ctx context.Context, s domain.Session) (string, error) {
	records := []exportRecord{{
		Kind: "session",
		Session: &sessionHeader{
			ID:          s.ID,
			Name:        s.Name,
			Status:      s.Status,
			Config:      s.Config,
			Players:     s.State.PlayerNames(),
			PlayerStats: s.State.PlayerStats,
			Rivalries:   s.State.Rivalries,
			CreatedAt:   s.CreatedAt,
			ExportedAt:  a.now().UTC(),
		},
	}}
	for i := range s.State.RoundHistory {
		r := s.State.RoundHistory[i]
		records = append(records, exportRecord{Kind: "round", Round: &r})
	}
	evs, err := a.events.ListEvents(ctx, s.ID, domain.ListOpts{})
	if err != nil {
		return "", fmt.Errorf("s3blob: export session %s: events: %w", s.ID, err)
	}
	// Oldest first in the export.
	for i := len(evs) - 1; i >= 0; i-- {
		e := evs[i]
		records = append(records, exportRecord{Kind: "event", Event: &e})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: export session %s: %w", s.ID, err)
	}
	path := sessionExportPrefix + s.ID + ".jsonl"
	if err := a.upload(ctx, path, buf); err != nil {
		return "", fmt.Errorf("s3blob: export session %s: %w", s.ID, err)
	}
	a.logger.InfoContext(ctx, "session exported",
		slog.String("session_id", s.ID),
		slog.String("path", path),
		slog.Int("rounds", len(s.State.RoundHistory)),
	)
	return path, nil
}

// ListExports lists the session exports in the bucket.
func (a *Archiver) ListExports(ctx context.Context) ([]domain.BlobInfo, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: list exports: no reader configured")
	}
	return a.reader.List(ctx, sessionExportPrefix)
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) > minPartSize {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
}

// eventArchivePath partitions event archives by month of the cutoff and
// names each run by its cutoff, so runs in the same month never overwrite
// each other:
//
//	archive/events/2026-01/events-20260119T030000Z.jsonl
func eventArchivePath(before time.Time) string {
	b := before.UTC()
	return fmt.Sprintf("archive/events/%s/events-%s.jsonl", b.Format("2006-01"), b.Format("20060102T150405Z"))
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
