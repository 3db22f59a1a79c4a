package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NomadCrew/nomad-crew-ledger/internal/store"
	"github.com/NomadCrew/nomad-crew-ledger/logger"
	"github.com/NomadCrew/nomad-crew-ledger/pkg/valueobjects"
	"github.com/NomadCrew/nomad-crew-ledger/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// PostgreSQL error codes the store translates.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier is satisfied by both a pool and a pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// LedgerStore implements store.LedgerStore on PostgreSQL.
type LedgerStore struct {
	db             DB
	rosterStatuses []string
}

// NewLedgerStore creates a LedgerStore. rosterStatuses are the
// trip_memberships statuses that count as accepted participants.
func NewLedgerStore(db DB, rosterStatuses []string) *LedgerStore {
	return &LedgerStore{db: db, rosterStatuses: rosterStatuses}
}

var _ store.LedgerStore = (*LedgerStore)(nil)

// CreateExpense inserts the expense row and its split rows in one transaction.
func (s *LedgerStore) CreateExpense(ctx context.Context, params types.CreateExpenseStoreParams) (*types.Expense, error) {
	expense := &types.Expense{
		ID:          params.ID,
		TripID:      params.TripID,
		PayerID:     params.PayerID,
		Amount:      params.Amount,
		Category:    params.Category,
		Description: params.Description,
		SplitMode:   params.SplitMode,
	}

	err := s.withTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO expenses (id, trip_id, payer_id, amount_minor, category, description, split_mode)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at`,
			params.ID,
			params.TripID,
			params.PayerID,
			params.Amount.Minor(),
			params.Category,
			params.Description,
			string(params.SplitMode),
		).Scan(&expense.CreatedAt)
		if err != nil {
			return translateError(err)
		}

		for _, split := range params.Splits {
			_, err := tx.Exec(ctx, `
				INSERT INTO expense_splits (expense_id, participant_id, share_minor, paid)
				VALUES ($1, $2, $3, $4)`,
				params.ID,
				split.ParticipantID,
				split.ShareAmount.Minor(),
				split.Paid,
			)
			if err != nil {
				return translateError(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create expense %s: %w", params.ID, err)
	}
	return expense, nil
}

// GetExpense returns the expense row with its stored split rows.
func (s *LedgerStore) GetExpense(ctx context.Context, expenseID string) (*types.StoredExpense, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, trip_id, payer_id, amount_minor, category, description, split_mode, created_at
		FROM expenses
		WHERE id = $1`, expenseID)

	expense, err := scanExpense(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("expense %s: %w", expenseID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get expense %s: %w", expenseID, err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT expense_id, participant_id, share_minor, paid
		FROM expense_splits
		WHERE expense_id = $1
		ORDER BY participant_id`, expenseID)
	if err != nil {
		return nil, fmt.Errorf("get splits of expense %s: %w", expenseID, err)
	}
	splits, err := collectSplits(rows)
	if err != nil {
		return nil, fmt.Errorf("get splits of expense %s: %w", expenseID, err)
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

// Snapshot reads expenses and roster inside one read-only repeatable-read
// transaction.
func (s *LedgerStore) Snapshot(ctx context.Context, tripID string) (*store.LedgerSnapshot, error) {
	snapshot := &store.LedgerSnapshot{}
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

	err := s.withTx(ctx, opts, func(tx pgx.Tx) error {
		var err error
		if snapshot.Expenses, err = listExpenses(ctx, tx, tripID); err != nil {
			return err
		}
		snapshot.Roster, err = s.roster(ctx, tx, tripID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot of trip %s: %w", tripID, err)
	}
	return snapshot, nil
}

// SetSplitPaid updates the paid flag of an existing split row.
func (s *LedgerStore) SetSplitPaid(ctx context.Context, expenseID, participantID string, paid bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE expense_splits
		SET paid = $3, updated_at = NOW()
		WHERE expense_id = $1 AND participant_id = $2`,
		expenseID, participantID, paid)
	if err != nil {
		return fmt.Errorf("set split paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("split %s/%s: %w", expenseID, participantID, store.ErrNotFound)
	}
	return nil
}

// UpsertPaidFlag stores a shareless paid-flag row for an all-mode expense.
func (s *LedgerStore) UpsertPaidFlag(ctx context.Context, expenseID, participantID string, paid bool) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO expense_splits (expense_id, participant_id, share_minor, paid)
		VALUES ($1, $2, NULL, $3)
		ON CONFLICT (expense_id, participant_id)
		DO UPDATE SET paid = EXCLUDED.paid, updated_at = NOW()`,
		expenseID, participantID, paid)
	if err != nil {
		return fmt.Errorf("upsert paid flag %s/%s: %w", expenseID, participantID, translateError(err))
	}
	return nil
}

// DeleteExpense removes the expense; its split rows cascade.
func (s *LedgerStore) DeleteExpense(ctx context.Context, expenseID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM expenses WHERE id = $1`, expenseID)
	if err != nil {
		return fmt.Errorf("delete expense %s: %w", expenseID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("expense %s: %w", expenseID, store.ErrNotFound)
	}
	return nil
}

func (s *LedgerStore) roster(ctx context.Context, q querier, tripID string) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT DISTINCT user_id
		FROM trip_memberships
		WHERE trip_id = $1 AND status = ANY($2)
		ORDER BY user_id`, tripID, s.rosterStatuses)
	if err != nil {
		return nil, fmt.Errorf("get roster of trip %s: %w", tripID, err)
	}
	defer rows.Close()

	roster := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan roster row: %w", err)
		}
		roster = append(roster, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster rows: %w", err)
	}
	return roster, nil
}

func listExpenses(ctx context.Context, q querier, tripID string) ([]types.StoredExpense, error) {
	rows, err := q.Query(ctx, `
		SELECT id, trip_id, payer_id, amount_minor, category, description, split_mode, created_at
		FROM expenses
		WHERE trip_id = $1
		ORDER BY created_at ASC, id ASC`, tripID)
	if err != nil {
		return nil, fmt.Errorf("list expenses of trip %s: %w", tripID, err)
	}

	expenses, err := scanExpenses(rows)
	if err != nil {
		return nil, fmt.Errorf("list expenses of trip %s: %w", tripID, err)
	}

	splitRows, err := q.Query(ctx, `
		SELECT s.expense_id, s.participant_id, s.share_minor, s.paid
		FROM expense_splits s
		JOIN expenses e ON e.id = s.expense_id
		WHERE e.trip_id = $1
		ORDER BY s.expense_id, s.participant_id`, tripID)
	if err != nil {
		return nil, fmt.Errorf("list splits of trip %s: %w", tripID, err)
	}
	splits, err := collectSplits(splitRows)
	if err != nil {
		return nil, fmt.Errorf("list splits of trip %s: %w", tripID, err)
	}

	for i := range expenses {
		expenses[i].Splits = splits[expenses[i].ID]
	}
	return expenses, nil
}

// scanExpenses reads expense rows and closes rows.
func scanExpenses(rows pgx.Rows) ([]types.StoredExpense, error) {
	defer rows.Close()

	expenses := make([]types.StoredExpense, 0)
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, types.StoredExpense{Expense: expense})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func scanExpense(row pgx.Row) (types.Expense, error) {
	var (
		expense     types.Expense
		amountMinor int64
		splitMode   string
	)
	err := row.Scan(
		&expense.ID,
		&expense.TripID,
		&expense.PayerID,
		&amountMinor,
		&expense.Category,
		&expense.Description,
		&splitMode,
		&expense.CreatedAt,
	)
	if err != nil {
		return types.Expense{}, err
	}
	expense.Amount = valueobjects.NewMoneyFromMinor(amountMinor)
	expense.SplitMode = types.SplitMode(splitMode)
	return expense, nil
}

// collectSplits reads split rows grouped by expense id and closes rows.
func collectSplits(rows pgx.Rows) (map[string][]types.StoredSplit, error) {
	defer rows.Close()

	splits := make(map[string][]types.StoredSplit)
	for rows.Next() {
		var (
			expenseID string
			split     types.StoredSplit
			share     pgtype.Int8
		)
		if err := rows.Scan(&expenseID, &split.ParticipantID, &share, &split.Paid); err != nil {
			return nil, fmt.Errorf("scan split row: %w", err)
		}
		if share.Valid {
			m := valueobjects.NewMoneyFromMinor(share.Int64)
			split.Share = &m
		}
		splits[expenseID] = append(splits[expenseID], split)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return splits, nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back otherwise.
func (s *LedgerStore) withTx(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logger.GetLogger().Errorw("Failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// translateError maps constraint violations onto store sentinels.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrConflict)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrNotFound)
		}
	}
	return err
}
