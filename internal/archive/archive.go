// Package archive writes snapshots to object storage or local files before
// they are deleted.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"histclean/internal/domain"
)

var _ domain.Archiver = (*Archiver)(nil)

// Store persists one archive object.
type Store interface {
	Put(ctx context.Context, key string, body []byte) error
}

// Archiver writes each batch of snapshots as a JSON-lines object under
// <prefix>/<model>/<run id>/.
type Archiver struct {
	store  Store
	prefix string
	seq    atomic.Int64
}

// New creates an Archiver writing to store below prefix.
func New(store Store, prefix string) *Archiver {
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/")}
}

// Entry is one archived snapshot.
type Entry struct {
	RunID       string         `json:"run_id"`
	Model       string         `json:"model"`
	Table       string         `json:"table"`
	HistoryID   any            `json:"history_id"`
	ObjectID    any            `json:"object_id"`
	HistoryDate time.Time      `json:"history_date"`
	Fields      map[string]any `json:"fields"`
}

// Archive implements domain.Archiver.
func (a *Archiver) Archive(ctx context.Context, runID string, m domain.Model, records []domain.HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	body, err := Encode(runID, m, records)
	if err != nil {
		return err
	}
	key := a.Key(runID, m.Label, a.seq.Add(1))
	if err := a.store.Put(ctx, key, body); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Key returns the object key of the n-th archive part of a run.
func (a *Archiver) Key(runID, model string, n int64) string {
	return path.Join(a.prefix, model, runID, fmt.Sprintf("part-%06d.jsonl", n))
}

// Encode renders records as JSON lines.
func Encode(runID string, m domain.Model, records []domain.HistoryRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		e := Entry{
			RunID:       runID,
			Model:       m.Label,
			Table:       m.HistoryTable,
			HistoryID:   r.HistoryID,
			ObjectID:    r.ObjectID,
			HistoryDate: r.HistoryDate.UTC(),
			Fields:      r.Fields,
		}
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("encode history %v: %w", r.HistoryID, err)
		}
	}
	return buf.Bytes(), nil
}
