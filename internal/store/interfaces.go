package store

import (
	"context"

	"github.com/NomadCrew/nomad-crew-ledger/types"
)

// ExpenseStore persists expenses and their split rows.
type ExpenseStore interface {
	// CreateExpense writes the expense and its splits atomically and returns
	// the stored expense with CreatedAt filled in.
	CreateExpense(ctx context.Context, params types.CreateExpenseStoreParams) (*types.Expense, error)
	GetExpense(ctx context.Context, expenseID string) (*types.StoredExpense, error)
	// ListExpenses returns the trip's expenses ordered by created_at, then id.
	ListExpenses(ctx context.Context, tripID string) ([]types.StoredExpense, error)
	// SetSplitPaid updates an existing split row, returning ErrNotFound when
	// there is none.
	SetSplitPaid(ctx context.Context, expenseID, participantID string, paid bool) error
	// UpsertPaidFlag records a paid flag for an all-mode expense, creating the
	// row if needed.
	UpsertPaidFlag(ctx context.Context, expenseID, participantID string, paid bool) error
	DeleteExpense(ctx context.Context, expenseID string) error
}

// RosterStore reads trip participants. The roster is owned by the trip
// service; this store only reads it.
type RosterStore interface {
	// GetParticipantRoster returns the sorted user ids of the trip's accepted
	// participants.
	GetParticipantRoster(ctx context.Context, tripID string) ([]string, error)
}

// LedgerSnapshot is a trip's expenses and roster read at one point in time.
type LedgerSnapshot struct {
	Expenses []types.StoredExpense
	Roster   []string
}

// LedgerStore is everything the expense service needs from persistence.
type LedgerStore interface {
	ExpenseStore
	RosterStore
	// Snapshot reads expenses and roster consistently, so balances never mix
	// two different states of the ledger.
	Snapshot(ctx context.Context, tripID string) (*LedgerSnapshot, error)
}
