package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"minder-cli/internal/model"
)

const (
	EventItemCreate    = "item.create"
	EventItemUpdate    = "item.update"
	EventItemRemove    = "item.remove"
	EventProjectCreate = "project.create"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureMetaUUID(ctx context.Context, db *sql.DB, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("empty meta key")
	}
	var v string
	err := db.QueryRowContext(ctx, `SELECT v FROM meta WHERE k = ?`, key).Scan(&v)
	if err == nil && strings.TrimSpace(v) != "" {
		return v, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	id := uuid.NewString()
	if _, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO meta(k, v) VALUES(?, ?)`, key, id); err != nil {
		return "", err
	}
	return id, nil
}

// appendEvent writes one log entry inside the caller's transaction so the event
// commits or rolls back together with the row change it describes.
func appendEvent(ctx context.Context, tx execer, ts time.Time, typ, entityID string, payload any) error {
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return errors.New("event: missing type")
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return fmt.Errorf("event %s: missing entity id", typ)
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events(event_id, type, entity_id, payload_json, issued_at_unixnano)
		VALUES(?, ?, ?, ?, ?)
	`, uuid.NewString(), typ, entityID, string(pb), ts.UTC().UnixNano())
	return err
}

// ReadEvents returns the newest limit events in log order (all when limit <= 0).
func (s *SQLite) ReadEvents(ctx context.Context, limit int) ([]model.Event, error) {
	q := `SELECT seq, event_id, issued_at_unixnano, type, entity_id, payload_json FROM events`
	if limit > 0 {
		return s.scanEvents(ctx, `SELECT * FROM (`+q+` ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`, limit)
	}
	return s.scanEvents(ctx, q+` ORDER BY seq ASC`)
}

// EventsSince returns events with a log position greater than after.
func (s *SQLite) EventsSince(ctx context.Context, after int64) ([]model.Event, error) {
	return s.scanEvents(ctx, `
		SELECT seq, event_id, issued_at_unixnano, type, entity_id, payload_json
		FROM events WHERE seq > ? ORDER BY seq ASC`, after)
}

func (s *SQLite) ReadEventsForEntity(ctx context.Context, entityID string, limit int) ([]model.Event, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return []model.Event{}, nil
	}
	q := `SELECT seq, event_id, issued_at_unixnano, type, entity_id, payload_json
	      FROM events
	      WHERE entity_id = ?
	      ORDER BY seq ASC`
	if limit > 0 {
		return s.scanEvents(ctx, q+` LIMIT ?`, entityID, limit)
	}
	return s.scanEvents(ctx, q, entityID)
}

// LastEventSeq returns the log position of the newest event, or 0 for an empty log.
func (s *SQLite) LastEventSeq(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&n); err != nil {
		return 0, err
	}
	return n.Int64, nil
}

func (s *SQLite) scanEvents(ctx context.Context, q string, args ...any) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Event{}
	for rows.Next() {
		var (
			seq                       int64
			id, typ, eid, payloadJSON string
			tsNano                    int64
		)
		if err := rows.Scan(&seq, &id, &tsNano, &typ, &eid, &payloadJSON); err != nil {
			return nil, err
		}
		var payload any
		_ = json.Unmarshal([]byte(payloadJSON), &payload)
		out = append(out, model.Event{
			Seq:      seq,
			ID:       id,
			TS:       time.Unix(0, tsNano).UTC(),
			Type:     typ,
			EntityID: eid,
			Payload:  payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
