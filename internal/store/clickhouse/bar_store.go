package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/Calim38/sniper/internal/signal"
	"github.com/Calim38/sniper/internal/store"
)

// BarStore implements store.BarStore using ClickHouse.
type BarStore struct {
	conn *Conn
}

// NewBarStore creates a new BarStore.
func NewBarStore(conn *Conn) *BarStore {
	return &BarStore{conn: conn}
}

// Compile-time interface check.
var _ store.BarStore = (*BarStore)(nil)

// InsertBars appends bars whose open time is not cached yet for (symbol, interval).
func (s *BarStore) InsertBars(ctx context.Context, symbol, interval string, bars []signal.Bar) error {
	if symbol == "" || interval == "" {
		return store.ErrInvalidInput
	}
	if len(bars) == 0 {
		return nil
	}

	existing, err := s.openTimes(ctx, symbol, interval, bars[0].OpenTime, bars[len(bars)-1].OpenTime)
	if err != nil {
		return fmt.Errorf("check existing bars: %w", err)
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bars (
			symbol, bar_interval, open_time, open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	appended := 0
	for _, b := range bars {
		ms := b.OpenTime.UnixMilli()
		if _, ok := existing[ms]; ok {
			continue
		}
		existing[ms] = struct{}{}
		if err := batch.Append(symbol, interval, b.OpenTime.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
		appended++
	}
	if appended == 0 {
		return batch.Abort()
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetBars retrieves bars within [start, end] (inclusive), ordered by open time.
func (s *BarStore) GetBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]signal.Bar, error) {
	query := `
		SELECT open_time, open, high, low, close, volume
		FROM bars FINAL
		WHERE symbol = ? AND bar_interval = ? AND open_time >= ? AND open_time <= ?
		ORDER BY open_time ASC
	`
	rows, err := s.conn.Query(ctx, query, symbol, interval, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var out []signal.Bar
	for rows.Next() {
		var b signal.Bar
		if err := rows.Scan(&b.OpenTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar row: %w", err)
		}
		b.OpenTime = b.OpenTime.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bar rows: %w", err)
	}
	return out, nil
}

func (s *BarStore) openTimes(ctx context.Context, symbol, interval string, start, end time.Time) (map[int64]struct{}, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT open_time FROM bars
		WHERE symbol = ? AND bar_interval = ? AND open_time >= ? AND open_time <= ?
	`, symbol, interval, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]struct{})
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out[ts.UnixMilli()] = struct{}{}
	}
	return out, rows.Err()
}
