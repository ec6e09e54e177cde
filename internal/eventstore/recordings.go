package eventstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrRecordingNotFound = errors.New("recording not found")

// RecordingInfo describes a stored recording without its body.
type RecordingInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Rows      int       `json:"rows"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Put stores a finished CSV recording. Storing a name twice is an error so a
// retry after a partial failure never silently overwrites data.
func (s *Store) Put(ctx context.Context, name string, body []byte) error {
	if !s.persistent() {
		return ErrPersistenceDisabled
	}
	// header line excluded
	rows := bytes.Count(body, []byte{'\n'}) - 1
	if rows < 0 {
		rows = 0
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings(id, name, row_count, body, created_at) VALUES(?, ?, ?, ?, ?)`,
		uuid.NewString(), name, rows, body, s.clock().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

func (s *Store) ListRecordings(ctx context.Context, limit int) ([]RecordingInfo, error) {
	if !s.persistent() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, row_count, length(body), created_at FROM recordings ORDER BY created_at DESC, name DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecordingInfo
	for rows.Next() {
		var info RecordingInfo
		var created int64
		if err := rows.Scan(&info.ID, &info.Name, &info.Rows, &info.Bytes, &created); err != nil {
			return nil, err
		}
		info.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *Store) GetRecording(ctx context.Context, name string) ([]byte, error) {
	if !s.persistent() {
		return nil, ErrPersistenceDisabled
	}
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM recordings WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordingNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}
