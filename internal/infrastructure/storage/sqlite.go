package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/trade_engine/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// Serialize writers; concurrent position saves would otherwise hit "database is locked".
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			exchange TEXT NOT NULL,
			pair TEXT NOT NULL,
			stake_amount REAL NOT NULL,
			amount REAL NOT NULL DEFAULT 0,
			open_rate REAL NOT NULL DEFAULT 0,
			close_rate REAL,
			close_profit REAL,
			fee REAL NOT NULL,
			open_order_id TEXT NOT NULL DEFAULT '',
			exit_reason TEXT NOT NULL DEFAULT '',
			is_open BOOLEAN NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_is_open ON positions(is_open, opened_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

const positionColumns = `id, exchange, pair, stake_amount, amount, open_rate, close_rate, close_profit,
	fee, open_order_id, exit_reason, is_open, opened_at, closed_at`

// SavePosition inserts or fully replaces the position row.
func (s *SQLiteStore) SavePosition(ctx context.Context, pos *domain.Position) error {
	query := `INSERT INTO positions (` + positionColumns + `, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
			  amount=excluded.amount,
			  open_rate=excluded.open_rate,
			  close_rate=excluded.close_rate,
			  close_profit=excluded.close_profit,
			  fee=excluded.fee,
			  open_order_id=excluded.open_order_id,
			  exit_reason=excluded.exit_reason,
			  is_open=excluded.is_open,
			  closed_at=excluded.closed_at,
			  updated_at=excluded.updated_at`

	var closedAt *time.Time
	if pos.ClosedAt != nil {
		t := pos.ClosedAt.UTC()
		closedAt = &t
	}
	_, err := s.db.ExecContext(ctx, query,
		pos.ID, pos.Exchange, pos.Pair, pos.StakeAmount, pos.Amount, pos.OpenRate,
		pos.CloseRate, pos.CloseProfit, pos.Fee, pos.OpenOrderID, string(pos.ExitReason),
		pos.IsOpen, pos.OpenedAt.UTC(), closedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: save position %s: %w", pos.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get position %s: %w", id, err)
	}
	return pos, nil
}

// QueryPositions returns positions with the given state, oldest first.
func (s *SQLiteStore) QueryPositions(ctx context.Context, isOpen bool) ([]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE is_open = ? ORDER BY opened_at, id`, isOpen)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query positions: %w", err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row scanner) (*domain.Position, error) {
	var (
		p          domain.Position
		closeRate  sql.NullFloat64
		profit     sql.NullFloat64
		exitReason string
		closedAt   sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Exchange, &p.Pair, &p.StakeAmount, &p.Amount, &p.OpenRate,
		&closeRate, &profit, &p.Fee, &p.OpenOrderID, &exitReason, &p.IsOpen, &p.OpenedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	if closeRate.Valid {
		p.CloseRate = &closeRate.Float64
	}
	if profit.Valid {
		p.CloseProfit = &profit.Float64
	}
	if closedAt.Valid {
		p.ClosedAt = &closedAt.Time
	}
	p.ExitReason = domain.ExitReason(exitReason)
	return &p, nil
}
