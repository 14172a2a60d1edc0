package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pvmon/pvmon/internal/events"
)

type ChannelEventRepo struct {
	db *sql.DB
}

func NewChannelEventRepo(db *sql.DB) *ChannelEventRepo {
	return &ChannelEventRepo{db: db}
}

func (r *ChannelEventRepo) Insert(ctx context.Context, st events.ChannelStatus) error {
	connected := 0
	if st.Connected {
		connected = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channel_events(pv, connected, at)
		VALUES(?, ?, ?)
	`, st.Name, connected, encodeTime(st.Timestamp))
	if err != nil {
		return fmt.Errorf("insert channel event: %w", err)
	}
	return nil
}

// ListRecent returns up to limit connection transitions of one PV, oldest first.
func (r *ChannelEventRepo) ListRecent(ctx context.Context, name string, limit int) ([]events.ChannelStatus, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT pv, connected, at
		FROM channel_events
		WHERE pv = ?
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("list channel events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []events.ChannelStatus
	for rows.Next() {
		var (
			st        events.ChannelStatus
			connected int
			at        int64
		)
		if err := rows.Scan(&st.Name, &connected, &at); err != nil {
			return nil, fmt.Errorf("scan channel event: %w", err)
		}
		st.Connected = connected != 0
		st.Timestamp = decodeTime(at)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel events: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
