package types

import (
	"encoding/json"
	"time"

	"github.com/NomadCrew/nomad-crew-ledger/pkg/valueobjects"
)

// SplitMode tells how an expense is divided among participants.
type SplitMode string

const (
	// SplitModeAll divides the expense equally among the trip roster as it
	// stands when balances are read, not when the expense was recorded.
	SplitModeAll SplitMode = "all"
	// SplitModeSubset divides the expense equally among a fixed list of
	// participants chosen when the expense was recorded.
	SplitModeSubset SplitMode = "subset"
)

// SplitPolicy is a tagged variant: either AllParticipants or an
// ExplicitSubset of participant ids. Build it with the constructors.
type SplitPolicy struct {
	Mode           SplitMode `json:"mode"`
	ParticipantIDs []string  `json:"participantIds,omitempty"`
}

// AllParticipants splits with every current trip participant.
func AllParticipants() SplitPolicy {
	return SplitPolicy{Mode: SplitModeAll}
}

// ExplicitSubset splits among exactly the given participants.
func ExplicitSubset(participantIDs ...string) SplitPolicy {
	return SplitPolicy{Mode: SplitModeSubset, ParticipantIDs: participantIDs}
}

// Expense is one payment made by a participant on behalf of a group.
type Expense struct {
	ID          string             `json:"id"`
	TripID      string             `json:"tripId"`
	PayerID     string             `json:"payerId"`
	Amount      valueobjects.Money `json:"amount"`
	Category    string             `json:"category,omitempty"`
	Description string             `json:"description,omitempty"`
	SplitMode   SplitMode          `json:"splitMode"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// ExpenseSplit is one participant's share of one expense. A paid split is
// settled outside the ledger and no longer counts against the participant.
type ExpenseSplit struct {
	ExpenseID     string             `json:"expenseId"`
	ParticipantID string             `json:"participantId"`
	ShareAmount   valueobjects.Money `json:"shareAmount"`
	Paid          bool               `json:"paid"`
}

// ExpenseWithSplits is an expense with its splits materialized.
type ExpenseWithSplits struct {
	Expense
	Splits []ExpenseSplit `json:"splits"`
}

// StoredExpense is the persisted form of an expense: the expense row plus
// whatever split rows exist for it. For subset expenses those rows carry the
// shares; for all-mode expenses they only record paid flags.
type StoredExpense struct {
	Expense
	Splits []StoredSplit
}

// StoredSplit is a persisted split row. Share is nil for all-mode expenses,
// whose shares are derived from the roster at read time.
type StoredSplit struct {
	ParticipantID string
	Share         *valueobjects.Money
	Paid          bool
}

// CreateExpenseStoreParams carries a validated expense and, for subset
// expenses, its precomputed splits. ID is assigned by the caller so the
// splits can reference it before anything is written.
type CreateExpenseStoreParams struct {
	ID          string
	TripID      string
	PayerID     string
	Amount      valueobjects.Money
	Category    string
	Description string
	SplitMode   SplitMode
	Splits      []ExpenseSplit
}

// RecordExpenseRequest is the body of POST /v1/trips/:id/expenses.
type RecordExpenseRequest struct {
	PayerID     string             `json:"payerId" binding:"required"`
	Amount      valueobjects.Money `json:"amount"`
	Category    string             `json:"category"`
	Description string             `json:"description"`
	Split       SplitPolicy        `json:"split"`
}

// MarkSplitPaidRequest is the body of PATCH .../splits/:participantId.
type MarkSplitPaidRequest struct {
	Paid *bool `json:"paid" binding:"required"`
}

// Settlement is a suggested transfer: From pays To the Amount.
type Settlement struct {
	From   string             `json:"from"`
	To     string             `json:"to"`
	Amount valueobjects.Money `json:"amount"`
}

// BalanceSheet is the derived balance state of a trip.
//
// Balances follows the ledger definition: what a participant paid minus the
// unpaid shares they owe. Settled records, per payer, the shares other
// participants have already paid back outside the ledger; the payer keeps
// credit for those in Balances, so planning works from Outstanding instead.
type BalanceSheet struct {
	TripID   string                        `json:"tripId"`
	Balances map[string]valueobjects.Money `json:"balances"`
	Settled  map[string]valueobjects.Money `json:"settled,omitempty"`
}

// Outstanding returns Balances minus Settled per participant: what each
// participant is still owed (positive) or still owes (negative).
func (s BalanceSheet) Outstanding() map[string]valueobjects.Money {
	out := make(map[string]valueobjects.Money, len(s.Balances))
	for id, balance := range s.Balances {
		out[id] = balance - s.Settled[id]
	}
	for id, settled := range s.Settled {
		if _, ok := s.Balances[id]; !ok {
			out[id] = -settled
		}
	}
	return out
}

// SettlementPlan is the response of GET /v1/trips/:id/settlements.
type SettlementPlan struct {
	TripID      string       `json:"tripId"`
	Settlements []Settlement `json:"settlements"`
}

// ExpenseEventPayload is published on the trip channel when the ledger changes.
type ExpenseEventPayload struct {
	ExpenseID     string             `json:"expenseId"`
	PayerID       string             `json:"payerId,omitempty"`
	Amount        valueobjects.Money `json:"amount,omitempty"`
	ParticipantID string             `json:"participantId,omitempty"`
	Paid          *bool              `json:"paid,omitempty"`
}

// MarshalPayload encodes the payload for an Event.
func (p ExpenseEventPayload) MarshalPayload() (json.RawMessage, error) {
	return json.Marshal(p)
}
