// Package settlement derives balances from ledger records and plans the
// transfers that clear them. Everything here is pure: no I/O, no shared
// state, deterministic for a given input.
package settlement

import (
	"fmt"
	"sort"

	"github.com/NomadCrew/nomad-crew-ledger/pkg/valueobjects"
	"github.com/NomadCrew/nomad-crew-ledger/types"
)

// EqualSplit divides amount equally among participantIDs. Every participant
// gets floor(amount/n) minor units except the remainder absorber, who gets
// whatever makes the shares sum to amount exactly. The absorber is the payer
// when the payer shares the expense, otherwise the lexicographically first
// participant. Duplicate ids are collapsed; splits come back sorted by id.
func EqualSplit(expenseID string, amount valueobjects.Money, participantIDs []string, payerID string) ([]types.ExpenseSplit, error) {
	participants := uniqueSorted(participantIDs)
	if len(participants) == 0 {
		return nil, fmt.Errorf("expense %s: no participants to split with", expenseID)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("expense %s: amount must be positive, got %s", expenseID, amount)
	}

	share, remainder, err := amount.SplitEvenly(len(participants))
	if err != nil {
		return nil, err
	}

	absorber := participants[0]
	for _, id := range participants {
		if id == payerID {
			absorber = payerID
			break
		}
	}

	splits := make([]types.ExpenseSplit, 0, len(participants))
	for _, id := range participants {
		s := types.ExpenseSplit{
			ExpenseID:     expenseID,
			ParticipantID: id,
			ShareAmount:   share,
		}
		if id == absorber {
			s.ShareAmount += remainder
		}
		splits = append(splits, s)
	}
	return splits, nil
}

// MaterializeSplits turns a stored expense into its effective splits.
//
// All-mode expenses are split across roster as it is now, so participants who
// joined after the expense was recorded share it too. With an empty roster the
// payer carries the whole amount. Stored rows only contribute paid flags.
//
// Subset expenses use their stored rows as-is. A row without a share counts
// as zero, which leaves the trip out of balance and is caught by the planner.
func MaterializeSplits(expense types.StoredExpense, roster []string) ([]types.ExpenseSplit, error) {
	switch expense.SplitMode {
	case types.SplitModeAll:
		participants := roster
		if len(uniqueSorted(participants)) == 0 {
			participants = []string{expense.PayerID}
		}
		splits, err := EqualSplit(expense.ID, expense.Amount, participants, expense.PayerID)
		if err != nil {
			return nil, err
		}
		paid := make(map[string]bool, len(expense.Splits))
		for _, row := range expense.Splits {
			paid[row.ParticipantID] = row.Paid
		}
		for i := range splits {
			splits[i].Paid = paid[splits[i].ParticipantID]
		}
		return splits, nil

	case types.SplitModeSubset:
		splits := make([]types.ExpenseSplit, 0, len(expense.Splits))
		for _, row := range expense.Splits {
			s := types.ExpenseSplit{
				ExpenseID:     expense.ID,
				ParticipantID: row.ParticipantID,
				Paid:          row.Paid,
			}
			if row.Share != nil {
				s.ShareAmount = *row.Share
			}
			splits = append(splits, s)
		}
		sort.Slice(splits, func(i, j int) bool {
			return splits[i].ParticipantID < splits[j].ParticipantID
		})
		return splits, nil

	default:
		return nil, fmt.Errorf("expense %s: unknown split mode %q", expense.ID, expense.SplitMode)
	}
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
