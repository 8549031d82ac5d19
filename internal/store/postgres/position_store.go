package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Calim38/sniper/internal/paper"
	"github.com/Calim38/sniper/internal/signal"
	"github.com/Calim38/sniper/internal/store"
)

// PositionStore implements store.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var (
	_ store.PositionStore = (*PositionStore)(nil)
	_ store.TradeHistory  = (*PositionStore)(nil)
)

// LoadOpenPositions returns every row of open_positions keyed by symbol.
func (s *PositionStore) LoadOpenPositions(ctx context.Context) (map[string]paper.Position, error) {
	query := `
		SELECT symbol, entry_price::text, quantity::text, amount::text,
			entry_time, current_high::text, status
		FROM open_positions
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]paper.Position)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out[pos.Symbol] = pos
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate open positions: %w", err)
	}
	return out, nil
}

// GetOpenPosition returns one position. Returns ErrNotFound if the symbol is flat.
func (s *PositionStore) GetOpenPosition(ctx context.Context, symbol string) (paper.Position, error) {
	query := `
		SELECT symbol, entry_price::text, quantity::text, amount::text,
			entry_time, current_high::text, status
		FROM open_positions
		WHERE symbol = $1
	`
	pos, err := scanPosition(s.pool.QueryRow(ctx, query, symbol))
	if err != nil {
		if isNotFoundError(err) {
			return paper.Position{}, store.ErrNotFound
		}
		return paper.Position{}, err
	}
	return pos, nil
}

// SaveOpenPositions replaces the table contents in one transaction.
func (s *PositionStore) SaveOpenPositions(ctx context.Context, positions map[string]paper.Position) error {
	if err := store.ValidatePositions(positions); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	keep := make([]string, 0, len(positions))
	for sym := range positions {
		keep = append(keep, sym)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM open_positions WHERE NOT (symbol = ANY($1))`, keep); err != nil {
		return fmt.Errorf("delete closed positions: %w", err)
	}

	upsert := `
		INSERT INTO open_positions (
			symbol, entry_price, quantity, amount, entry_time, current_high, status
		) VALUES (
			$1, $2::text::numeric, $3::text::numeric, $4::text::numeric, $5, $6::text::numeric, $7
		)
		ON CONFLICT (symbol) DO UPDATE SET
			entry_price = EXCLUDED.entry_price,
			quantity = EXCLUDED.quantity,
			amount = EXCLUDED.amount,
			entry_time = EXCLUDED.entry_time,
			current_high = EXCLUDED.current_high,
			status = EXCLUDED.status
	`
	for sym, pos := range positions {
		status := pos.Status
		if status == "" {
			status = paper.StatusOpen
		}
		_, err := tx.Exec(ctx, upsert,
			sym, numericArg(pos.EntryPrice), numericArg(pos.Quantity), numericArg(pos.Amount),
			pos.EntryTime, numericArg(pos.CurrentHigh), string(status),
		)
		if err != nil {
			return fmt.Errorf("upsert position %s: %w", sym, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// AppendCompletedTrade inserts a trade. Returns ErrDuplicateKey if (symbol, entry_time) was already closed.
func (s *PositionStore) AppendCompletedTrade(ctx context.Context, t paper.CompletedTrade) error {
	if err := store.ValidateTrade(t); err != nil {
		return err
	}
	query := `
		INSERT INTO completed_trades (
			symbol, entry_price, exit_price, quantity, entry_time, exit_time,
			profit_loss, profit_loss_percent, reason
		) VALUES (
			$1, $2::text::numeric, $3::text::numeric, $4::text::numeric, $5, $6,
			$7::text::numeric, $8::text::numeric, $9
		)
	`
	_, err := s.pool.Exec(ctx, query,
		t.Symbol, numericArg(t.EntryPrice), numericArg(t.ExitPrice), numericArg(t.Quantity),
		t.EntryTime, t.ExitTime,
		numericArg(t.ProfitLoss), numericArg(t.ProfitLossPercent), string(t.Reason),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert completed trade: %w", err)
	}
	return nil
}

// ListCompletedTrades returns all trades ordered by exit time.
func (s *PositionStore) ListCompletedTrades(ctx context.Context) ([]paper.CompletedTrade, error) {
	query := `
		SELECT symbol, entry_price::text, exit_price::text, quantity::text,
			entry_time, exit_time, profit_loss::text, profit_loss_percent::text, reason
		FROM completed_trades
		ORDER BY exit_time ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query completed trades: %w", err)
	}
	defer rows.Close()

	var out []paper.CompletedTrade
	for rows.Next() {
		var (
			t                                  paper.CompletedTrade
			entry, exit, qty, pnl, pct, reason string
		)
		if err := rows.Scan(&t.Symbol, &entry, &exit, &qty, &t.EntryTime, &t.ExitTime, &pnl, &pct, &reason); err != nil {
			return nil, fmt.Errorf("scan completed trade: %w", err)
		}
		if t.EntryPrice, err = parseNumeric("entry_price", entry); err != nil {
			return nil, err
		}
		if t.ExitPrice, err = parseNumeric("exit_price", exit); err != nil {
			return nil, err
		}
		if t.Quantity, err = parseNumeric("quantity", qty); err != nil {
			return nil, err
		}
		if t.ProfitLoss, err = parseNumeric("profit_loss", pnl); err != nil {
			return nil, err
		}
		if t.ProfitLossPercent, err = parseNumeric("profit_loss_percent", pct); err != nil {
			return nil, err
		}
		t.Reason = signal.ExitReason(reason)
		t.EntryTime, t.ExitTime = t.EntryTime.UTC(), t.ExitTime.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed trades: %w", err)
	}
	return out, nil
}

func scanPosition(row pgx.Row) (paper.Position, error) {
	var (
		pos                       paper.Position
		entry, qty, amount, high string
		status                    string
	)
	if err := row.Scan(&pos.Symbol, &entry, &qty, &amount, &pos.EntryTime, &high, &status); err != nil {
		if isNotFoundError(err) {
			return paper.Position{}, err
		}
		return paper.Position{}, fmt.Errorf("scan position: %w", err)
	}
	var err error
	if pos.EntryPrice, err = parseNumeric("entry_price", entry); err != nil {
		return paper.Position{}, err
	}
	if pos.Quantity, err = parseNumeric("quantity", qty); err != nil {
		return paper.Position{}, err
	}
	if pos.Amount, err = parseNumeric("amount", amount); err != nil {
		return paper.Position{}, err
	}
	if pos.CurrentHigh, err = parseNumeric("current_high", high); err != nil {
		return paper.Position{}, err
	}
	pos.Status = paper.Status(status)
	pos.EntryTime = pos.EntryTime.UTC()
	return pos, nil
}
