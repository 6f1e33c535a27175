package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Schema creates the settlements table (PostgreSQL dialect)
const Schema = `CREATE TABLE IF NOT EXISTS settlements (
	id         TEXT PRIMARY KEY,
	resource   TEXT NOT NULL,
	network    TEXT NOT NULL,
	tx_hash    TEXT NOT NULL,
	payer      TEXT NOT NULL DEFAULT '',
	amount     TEXT NOT NULL,
	asset      TEXT NOT NULL,
	pay_to     TEXT NOT NULL,
	settled_at TIMESTAMPTZ NOT NULL,
	UNIQUE (network, tx_hash)
);
CREATE INDEX IF NOT EXISTS settlements_resource_idx ON settlements (resource, settled_at);`

const (
	countByResourceQuery = "SELECT COUNT(*) FROM settlements WHERE resource = $1"

	insertSettlementQuery = `INSERT INTO settlements (id, resource, network, tx_hash, payer, amount, asset, pay_to, settled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (network, tx_hash) DO NOTHING`

	selectColumns = "SELECT id, resource, network, tx_hash, payer, amount, asset, pay_to, settled_at FROM settlements"

	listByResourceQuery = selectColumns + " WHERE resource = $1 ORDER BY settled_at"

	findByTransactionQuery = selectColumns + " WHERE network = $1 AND tx_hash = $2"
)

// Ensure SQLStore implements Store
var _ Store = (*SQLStore)(nil)

// SQLStore keeps settlements in a PostgreSQL database
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Open connects with driverName and returns a migrated store
func Open(ctx context.Context, driverName, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := NewSQLStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates the schema when missing
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate ledger: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Record inserts the settlement. First-ness is decided inside the same
// transaction as the insert.
func (s *SQLStore) Record(ctx context.Context, st Settlement) (first bool, err error) {
	if st.SettledAt.IsZero() {
		st.SettledAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var count int
	if err = tx.QueryRowContext(ctx, countByResourceQuery, st.Resource).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count settlements: %w", err)
	}

	result, err := tx.ExecContext(ctx, insertSettlementQuery,
		st.ID, st.Resource, st.Network, st.Transaction, st.Payer, st.Amount, st.Asset, st.PayTo, st.SettledAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert settlement: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert settlement: %w", err)
	}
	if affected == 0 {
		err = ErrDuplicateTransaction
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return count == 0, nil
}

func (s *SQLStore) ListByResource(ctx context.Context, resource string) ([]Settlement, error) {
	rows, err := s.db.QueryContext(ctx, listByResourceQuery, resource)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	var out []Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	return out, nil
}

func (s *SQLStore) FindByTransaction(ctx context.Context, network, transaction string) (*Settlement, error) {
	st, err := scanSettlement(s.db.QueryRowContext(ctx, findByTransactionQuery, network, transaction))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSettlement(row scanner) (Settlement, error) {
	var st Settlement
	err := row.Scan(&st.ID, &st.Resource, &st.Network, &st.Transaction, &st.Payer, &st.Amount, &st.Asset, &st.PayTo, &st.SettledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Settlement{}, err
	}
	if err != nil {
		return Settlement{}, fmt.Errorf("failed to scan settlement: %w", err)
	}
	return st, nil
}
