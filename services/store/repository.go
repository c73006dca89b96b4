package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"sensorcode-go/types"
)

// Record is one stored capability value.
type Record struct {
	Kind    types.Kind
	CapID   int
	TsMs    int64
	Payload []byte // JSON as published
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) Insert(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO readings (kind, cap_id, ts_ms, payload) VALUES (?, ?, ?, ?)`,
		string(rec.Kind), rec.CapID, rec.TsMs, string(rec.Payload))
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// Latest returns up to limit records for one capability, newest first.
func (r *Repository) Latest(ctx context.Context, kind types.Kind, capID, limit int) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT kind, cap_id, ts_ms, payload FROM readings
		 WHERE kind = ? AND cap_id = ?
		 ORDER BY ts_ms DESC, id DESC LIMIT ?`,
		string(kind), capID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			kind    string
			payload string
		)
		if err := rows.Scan(&kind, &rec.CapID, &rec.TsMs, &payload); err != nil {
			return nil, err
		}
		rec.Kind = types.Kind(kind)
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes records older than cutoffMs and reports how many went.
func (r *Repository) Prune(ctx context.Context, cutoffMs int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM readings WHERE ts_ms < ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("prune readings: %w", err)
	}
	return res.RowsAffected()
}
