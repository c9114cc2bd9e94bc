package store

import (
	"context"
	"fmt"
	"time"

	"github.com/edupinhata/naval-gunbound-war/internal/db"
)

// Event kinds recorded in the ledger. Message bodies are never stored.
const (
	KindRegistered = "registered"
	KindDuplicate  = "duplicate"
	KindAttached   = "attached"
	KindDetached   = "detached"
	KindRemoved    = "removed"
	KindBroadcast  = "broadcast"
)

type Store struct{ db *db.DB }

func New(d *db.DB) *Store { return &Store{db: d} }

type Event struct {
	ID     int64          `json:"id"`
	TS     time.Time      `json:"ts"`
	Kind   string         `json:"kind"`
	Token  *string        `json:"token"`
	Remote *string        `json:"remote"`
	Detail map[string]int `json:"detail,omitempty"`
}

func (s *Store) InsertEvent(ctx context.Context, ev *Event) (int64, error) {
	ts := ev.TS
	if ts.IsZero() {
		ts = time.Now()
	}
	detail := ev.Detail
	if detail == nil {
		detail = map[string]int{}
	}
	var id int64
	err := s.db.Pool.QueryRow(ctx, `
INSERT INTO relay_events(ts, kind, token, remote, detail)
VALUES ($1,$2,$3,$4,$5)
RETURNING id;
`, ts, ev.Kind, ev.Token, ev.Remote, detail).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert relay_event: %w", err)
	}
	return id, nil
}

func (s *Store) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.Pool.Query(ctx, `
SELECT id, ts, kind, token, remote, detail
FROM relay_events
ORDER BY ts DESC, id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Kind, &ev.Token, &ev.Remote, &ev.Detail); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Ptr is a small helper for the nullable text columns.
func Ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
