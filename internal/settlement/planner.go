package settlement

import (
	"errors"
	"fmt"
	"sort"

	"github.com/NomadCrew/nomad-crew-ledger/pkg/valueobjects"
	"github.com/NomadCrew/nomad-crew-ledger/types"
)

// DefaultTolerance is how far from zero, in minor units, a balance vector may
// sum before it is rejected.
const DefaultTolerance valueobjects.Money = 1

// ErrInconsistentLedger is matched by every *ImbalanceError.
var ErrInconsistentLedger = errors.New("ledger balances do not sum to zero")

// ImbalanceError reports a balance vector whose sum exceeds the tolerance.
type ImbalanceError struct {
	Residual valueobjects.Money
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("%s: residual %s", ErrInconsistentLedger.Error(), e.Residual)
}

func (e *ImbalanceError) Is(target error) bool {
	return target == ErrInconsistentLedger
}

type position struct {
	id     string
	amount valueobjects.Money
}

// PlanSettlements is PlanSettlementsWithTolerance with DefaultTolerance.
func PlanSettlements(balances map[string]valueobjects.Money) ([]types.Settlement, error) {
	return PlanSettlementsWithTolerance(balances, DefaultTolerance)
}

// PlanSettlementsWithTolerance returns transfers that bring every balance to
// zero, using greedy matching of the largest creditor with the largest debtor.
// Positive balances are owed money, negative balances owe money.
//
// Every step zeroes at least one creditor or debtor, so the result has at
// most n-1 entries for n nonzero balances, and identical input always gives
// an identical plan. A vector whose sum is further than tolerance from zero
// is rejected with an *ImbalanceError.
func PlanSettlementsWithTolerance(balances map[string]valueobjects.Money, tolerance valueobjects.Money) ([]types.Settlement, error) {
	if residual := Sum(balances); residual.Abs() > tolerance.Abs() {
		return nil, &ImbalanceError{Residual: residual}
	}

	var creditors, debtors []position
	for id, amount := range balances {
		switch {
		case amount.IsPositive():
			creditors = append(creditors, position{id: id, amount: amount})
		case amount.IsNegative():
			debtors = append(debtors, position{id: id, amount: amount})
		}
	}

	sort.Slice(creditors, func(i, j int) bool {
		if creditors[i].amount != creditors[j].amount {
			return creditors[i].amount > creditors[j].amount
		}
		return creditors[i].id < creditors[j].id
	})
	sort.Slice(debtors, func(i, j int) bool {
		if debtors[i].amount != debtors[j].amount {
			return debtors[i].amount < debtors[j].amount
		}
		return debtors[i].id < debtors[j].id
	})

	plan := make([]types.Settlement, 0, len(creditors)+len(debtors))
	i, j := 0, 0
	for i < len(creditors) && j < len(debtors) {
		transfer := valueobjects.Min(creditors[i].amount, debtors[j].amount.Abs())
		if transfer.IsPositive() {
			plan = append(plan, types.Settlement{
				From:   debtors[j].id,
				To:     creditors[i].id,
				Amount: transfer,
			})
		}

		creditors[i].amount -= transfer
		debtors[j].amount += transfer

		if creditors[i].amount.IsZero() {
			i++
		}
		if debtors[j].amount.IsZero() {
			j++
		}
	}

	return plan, nil
}
