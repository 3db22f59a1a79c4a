package settlement

import (
	"github.com/NomadCrew/nomad-crew-ledger/pkg/valueobjects"
	"github.com/NomadCrew/nomad-crew-ledger/types"
)

// AggregateBalances computes every participant's net position for a trip.
//
// Each roster participant starts at zero. For every expense the payer is
// credited the full amount and every unpaid split is debited from its
// participant. Payers or split participants no longer on the roster are
// still carried so the sheet stays zero-sum.
//
// A paid split is skipped for the debtor, and the payer keeps the full credit;
// the share is added to Settled for the payer instead.
func AggregateBalances(tripID string, expenses []types.ExpenseWithSplits, roster []string) types.BalanceSheet {
	sheet := types.BalanceSheet{
		TripID:   tripID,
		Balances: make(map[string]valueobjects.Money, len(roster)),
		Settled:  make(map[string]valueobjects.Money),
	}
	for _, id := range roster {
		sheet.Balances[id] = valueobjects.Zero
	}

	for _, e := range expenses {
		sheet.Balances[e.PayerID] += e.Amount
		for _, s := range e.Splits {
			if _, ok := sheet.Balances[s.ParticipantID]; !ok {
				sheet.Balances[s.ParticipantID] = valueobjects.Zero
			}
			if s.Paid {
				sheet.Settled[e.PayerID] += s.ShareAmount
				continue
			}
			sheet.Balances[s.ParticipantID] -= s.ShareAmount
		}
	}

	return sheet
}

// Sum adds up a balance vector.
func Sum(balances map[string]valueobjects.Money) valueobjects.Money {
	var total valueobjects.Money
	for _, b := range balances {
		total += b
	}
	return total
}
