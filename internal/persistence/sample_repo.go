package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pvmon/pvmon/internal/events"
)

type SampleRepo struct {
	db *sql.DB
}

func NewSampleRepo(db *sql.DB) *SampleRepo {
	return &SampleRepo{db: db}
}

func (r *SampleRepo) Insert(ctx context.Context, s events.Sample) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO samples(pv, kind, value, at)
		VALUES(?, ?, ?, ?)
	`, s.Name, s.Kind, s.Text, encodeTime(s.Timestamp))
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// ListRecent returns up to limit samples of one PV, oldest first.
func (r *SampleRepo) ListRecent(ctx context.Context, name string, limit int) ([]events.Sample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT pv, kind, value, at
		FROM samples
		WHERE pv = ?
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []events.Sample
	for rows.Next() {
		var (
			s  events.Sample
			at int64
		)
		if err := rows.Scan(&s.Name, &s.Kind, &s.Text, &at); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		s.Timestamp = decodeTime(at)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Names lists every PV with at least one archived sample.
func (r *SampleRepo) Names(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT pv FROM samples ORDER BY pv`)
	if err != nil {
		return nil, fmt.Errorf("list sample names: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan sample name: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sample names: %w", err)
	}
	return out, nil
}
