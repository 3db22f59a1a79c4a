// Package sqlite is a single-node implementation of store.LedgerStore on
// SQLite, for local development and small self-hosted deployments.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/NomadCrew/nomad-crew-ledger/internal/store"
	"github.com/NomadCrew/nomad-crew-ledger/logger"
	"github.com/NomadCrew/nomad-crew-ledger/pkg/valueobjects"
	"github.com/NomadCrew/nomad-crew-ledger/types"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

var _ store.LedgerStore = (*LedgerStore)(nil)

// LedgerStore implements store.LedgerStore using SQLite.
type LedgerStore struct {
	db             *sql.DB
	rosterStatuses []string
	now            func() time.Time
}

// New opens the database at dsn, creating parent directories for file paths,
// and applies the schema.
func New(dsn string, rosterStatuses []string) (*LedgerStore, error) {
	if dsn != MemoryDSN && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer, and every connection to
	// :memory: would otherwise see its own empty database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.GetLogger().Infow("Opened SQLite ledger store", "dsn", dsn)
	return &LedgerStore{db: db, rosterStatuses: rosterStatuses, now: time.Now}, nil
}

func applySchema(db *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *LedgerStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *LedgerStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateExpense inserts the expense row and its split rows in one transaction.
func (s *LedgerStore) CreateExpense(ctx context.Context, params types.CreateExpenseStoreParams) (*types.Expense, error) {
	createdAt := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO expenses (id, trip_id, payer_id, amount_minor, category, description, split_mode, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		params.ID, params.TripID, params.PayerID, params.Amount.Minor(),
		params.Category, params.Description, string(params.SplitMode), createdAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert expense: %w", translateError(err))
	}

	for _, split := range params.Splits {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO expense_splits (expense_id, participant_id, share_minor, paid) VALUES (?, ?, ?, ?)",
			params.ID, split.ParticipantID, split.ShareAmount.Minor(), split.Paid,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert split: %w", translateError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &types.Expense{
		ID:          params.ID,
		TripID:      params.TripID,
		PayerID:     params.PayerID,
		Amount:      params.Amount,
		Category:    params.Category,
		Description: params.Description,
		SplitMode:   params.SplitMode,
		CreatedAt:   createdAt,
	}, nil
}

// GetExpense retrieves an expense by ID together with its split rows.
func (s *LedgerStore) GetExpense(ctx context.Context, expenseID string) (*types.StoredExpense, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, trip_id, payer_id, amount_minor, category, description, split_mode, created_at
		 FROM expenses WHERE id = ?`, expenseID)

	expense, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("expense %s: %w", expenseID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT expense_id, participant_id, share_minor, paid FROM expense_splits WHERE expense_id = ? ORDER BY participant_id",
		expenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get splits: %w", err)
	}
	splits, err := collectSplits(rows)
	if err != nil {
		return nil, err
	}

	return &types.StoredExpense{Expense: expense, Splits: splits[expenseID]}, nil
}

// ListExpenses returns every expense of the trip, oldest first.
func (s *LedgerStore) ListExpenses(ctx context.Context, tripID string) ([]types.StoredExpense, error) {
	return listExpenses(ctx, s.db, tripID)
}

// GetParticipantRoster returns the trip's accepted participants sorted by id.
func (s *LedgerStore) GetParticipantRoster(ctx context.Context, tripID string) ([]string, error) {
	return s.roster(ctx, s.db, tripID)
}

// Snapshot reads expenses and roster inside one transaction.
func (s *LedgerStore) Snapshot(ctx context.Context, tripID string) (*store.LedgerSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	expenses, err := listExpenses(ctx, tx, tripID)
	if err != nil {
		return nil, err
	}
	roster, err := s.roster(ctx, tx, tripID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &store.LedgerSnapshot{Expenses: expenses, Roster: roster}, nil
}

// SetSplitPaid updates the paid flag of an existing split row.
func (s *LedgerStore) SetSplitPaid(ctx context.Context, expenseID, participantID string, paid bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE expense_splits SET paid = ? WHERE expense_id = ? AND participant_id = ?",
		paid, expenseID, participantID)
	if err != nil {
		return fmt.Errorf("failed to update split: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update split: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("split %s/%s: %w", expenseID, participantID, store.ErrNotFound)
	}
	return nil
}

// UpsertPaidFlag stores a shareless paid-flag row for an all-mode expense.
func (s *LedgerStore) UpsertPaidFlag(ctx context.Context, expenseID, participantID string, paid bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO expense_splits (expense_id, participant_id, share_minor, paid)
		 VALUES (?, ?, NULL, ?)
		 ON CONFLICT (expense_id, participant_id) DO UPDATE SET paid = excluded.paid`,
		expenseID, participantID, paid)
	if err != nil {
		return fmt.Errorf("failed to upsert paid flag: %w", translateError(err))
	}
	return nil
}

// DeleteExpense removes the expense; its split rows cascade.
func (s *LedgerStore) DeleteExpense(ctx context.Context, expenseID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", expenseID)
	if err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("expense %s: %w", expenseID, store.ErrNotFound)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *LedgerStore) roster(ctx context.Context, q queryer, tripID string) ([]string, error) {
	if len(s.rosterStatuses) == 0 {
		return []string{}, nil
	}
	args := make([]any, 0, len(s.rosterStatuses)+1)
	args = append(args, tripID)
	for _, status := range s.rosterStatuses {
		args = append(args, status)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(s.rosterStatuses)), ", ")

	rows, err := q.QueryContext(ctx,
		"SELECT DISTINCT user_id FROM trip_memberships WHERE trip_id = ? AND status IN ("+placeholders+") ORDER BY user_id",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get roster: %w", err)
	}
	defer rows.Close()

	roster := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan roster row: %w", err)
		}
		roster = append(roster, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roster: %w", err)
	}
	return roster, nil
}

func listExpenses(ctx context.Context, q queryer, tripID string) ([]types.StoredExpense, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, trip_id, payer_id, amount_minor, category, description, split_mode, created_at
		 FROM expenses WHERE trip_id = ? ORDER BY created_at ASC, id ASC`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}

	expenses := make([]types.StoredExpense, 0)
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, types.StoredExpense{Expense: expense})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}

	splitRows, err := q.QueryContext(ctx,
		`SELECT s.expense_id, s.participant_id, s.share_minor, s.paid
		 FROM expense_splits s JOIN expenses e ON e.id = s.expense_id
		 WHERE e.trip_id = ? ORDER BY s.expense_id, s.participant_id`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to list splits: %w", err)
	}
	splits, err := collectSplits(splitRows)
	if err != nil {
		return nil, err
	}

	for i := range expenses {
		expenses[i].Splits = splits[expenses[i].ID]
	}
	return expenses, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(row scanner) (types.Expense, error) {
	var (
		expense     types.Expense
		amountMinor int64
		splitMode   string
		createdAt   int64
	)
	err := row.Scan(&expense.ID, &expense.TripID, &expense.PayerID, &amountMinor,
		&expense.Category, &expense.Description, &splitMode, &createdAt)
	if err != nil {
		return types.Expense{}, err
	}
	expense.Amount = valueobjects.NewMoneyFromMinor(amountMinor)
	expense.SplitMode = types.SplitMode(splitMode)
	expense.CreatedAt = time.Unix(0, createdAt).UTC()
	return expense, nil
}

func collectSplits(rows *sql.Rows) (map[string][]types.StoredSplit, error) {
	defer rows.Close()

	splits := make(map[string][]types.StoredSplit)
	for rows.Next() {
		var (
			expenseID string
			split     types.StoredSplit
			share     sql.NullInt64
		)
		if err := rows.Scan(&expenseID, &split.ParticipantID, &share, &split.Paid); err != nil {
			return nil, fmt.Errorf("failed to scan split: %w", err)
		}
		if share.Valid {
			m := valueobjects.NewMoneyFromMinor(share.Int64)
			split.Share = &m
		}
		splits[expenseID] = append(splits[expenseID], split)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate splits: %w", err)
	}
	return splits, nil
}

// translateError maps constraint violations onto store sentinels.
func translateError(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return fmt.Errorf("%v: %w", err, store.ErrConflict)
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return fmt.Errorf("%v: %w", err, store.ErrNotFound)
	}
	return err
}
