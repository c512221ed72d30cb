package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vitos/trade_engine/internal/domain"
)

// PostgresStore implements domain.PositionRepository on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			exchange TEXT NOT NULL,
			pair TEXT NOT NULL,
			stake_amount DOUBLE PRECISION NOT NULL,
			amount DOUBLE PRECISION NOT NULL DEFAULT 0,
			open_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			close_rate DOUBLE PRECISION,
			close_profit DOUBLE PRECISION,
			fee DOUBLE PRECISION NOT NULL,
			open_order_id TEXT NOT NULL DEFAULT '',
			exit_reason TEXT NOT NULL DEFAULT '',
			is_open BOOLEAN NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_is_open ON positions(is_open, opened_at)`,
	}
	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) SavePosition(ctx context.Context, pos *domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, exchange, pair, stake_amount, amount, open_rate, close_rate, close_profit,
			fee, open_order_id, exit_reason, is_open, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			amount        = EXCLUDED.amount,
			open_rate     = EXCLUDED.open_rate,
			close_rate    = EXCLUDED.close_rate,
			close_profit  = EXCLUDED.close_profit,
			fee           = EXCLUDED.fee,
			open_order_id = EXCLUDED.open_order_id,
			exit_reason   = EXCLUDED.exit_reason,
			is_open       = EXCLUDED.is_open,
			closed_at     = EXCLUDED.closed_at,
			updated_at    = NOW()`

	_, err := s.pool.Exec(ctx, query,
		pos.ID, pos.Exchange, pos.Pair, pos.StakeAmount, pos.Amount, pos.OpenRate,
		pos.CloseRate, pos.CloseProfit, pos.Fee, pos.OpenOrderID, string(pos.ExitReason),
		pos.IsOpen, pos.OpenedAt, pos.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", pos.ID, err)
	}
	return nil
}

const pgPositionColumns = `id, exchange, pair, stake_amount, amount, open_rate, close_rate, close_profit,
	fee, open_order_id, exit_reason, is_open, opened_at, closed_at`

func scanPgPosition(row pgx.Row) (*domain.Position, error) {
	var (
		p          domain.Position
		exitReason string
		closedAt   *time.Time
	)
	err := row.Scan(&p.ID, &p.Exchange, &p.Pair, &p.StakeAmount, &p.Amount, &p.OpenRate,
		&p.CloseRate, &p.CloseProfit, &p.Fee, &p.OpenOrderID, &exitReason, &p.IsOpen, &p.OpenedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	p.ExitReason = domain.ExitReason(exitReason)
	p.ClosedAt = closedAt
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgPositionColumns+` FROM positions WHERE id = $1`, id)
	pos, err := scanPgPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return pos, nil
}

func (s *PostgresStore) QueryPositions(ctx context.Context, isOpen bool) ([]*domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPositionColumns+` FROM positions WHERE is_open = $1 ORDER BY opened_at, id`, isOpen)
	if err != nil {
		return nil, fmt.Errorf("postgres: query positions: %w", err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		pos, err := scanPgPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}
