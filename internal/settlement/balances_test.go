package settlement

import (
	"testing"

	"github.com/NomadCrew/nomad-crew-ledger/pkg/valueobjects"
	"github.com/NomadCrew/nomad-crew-ledger/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allModeExpense(t *testing.T, id, payer string, amount valueobjects.Money, roster []string, paid ...string) types.ExpenseWithSplits {
	t.Helper()
	stored := types.StoredExpense{
		Expense: types.Expense{ID: id, TripID: "trip-1", PayerID: payer, Amount: amount, SplitMode: types.SplitModeAll},
	}
	for _, p := range paid {
		stored.Splits = append(stored.Splits, types.StoredSplit{ParticipantID: p, Paid: true})
	}
	splits, err := MaterializeSplits(stored, roster)
	require.NoError(t, err)
	return types.ExpenseWithSplits{Expense: stored.Expense, Splits: splits}
}

func TestAggregateBalances_ThreeWaySplit(t *testing.T) {
	roster := []string{"A", "B", "C"}
	expenses := []types.ExpenseWithSplits{allModeExpense(t, "e1", "A", 9000, roster)}

	sheet := AggregateBalances("trip-1", expenses, roster)

	assert.Equal(t, "trip-1", sheet.TripID)
	assert.Equal(t, map[string]valueobjects.Money{"A": 6000, "B": -3000, "C": -3000}, sheet.Balances)
	assert.Equal(t, valueobjects.Zero, Sum(sheet.Balances))
	assert.Empty(t, sheet.Settled)
}

func TestAggregateBalances_PaidSplitMovesOnlyDebtor(t *testing.T) {
	roster := []string{"A", "B", "C"}
	before := AggregateBalances("trip-1", []types.ExpenseWithSplits{allModeExpense(t, "e1", "A", 9000, roster)}, roster)
	after := AggregateBalances("trip-1", []types.ExpenseWithSplits{allModeExpense(t, "e1", "A", 9000, roster, "C")}, roster)

	assert.Equal(t, before.Balances["C"]+3000, after.Balances["C"])
	assert.Equal(t, valueobjects.Zero, after.Balances["C"])
	assert.Equal(t, before.Balances["A"], after.Balances["A"])
	assert.Equal(t, before.Balances["B"], after.Balances["B"])

	assert.Equal(t, valueobjects.Money(3000), after.Settled["A"])
	assert.Equal(t, map[string]valueobjects.Money{"A": 3000, "B": -3000, "C": 0}, after.Outstanding())
	assert.Equal(t, valueobjects.Zero, Sum(after.Outstanding()))
}

func TestAggregateBalances_RosterParticipantWithoutExpenses(t *testing.T) {
	roster := []string{"A", "B", "D"}
	share := valueobjects.Money(1000)
	subset := types.ExpenseWithSplits{
		Expense: types.Expense{ID: "e1", PayerID: "A", Amount: 2000, SplitMode: types.SplitModeSubset},
		Splits: []types.ExpenseSplit{
			{ExpenseID: "e1", ParticipantID: "A", ShareAmount: share},
			{ExpenseID: "e1", ParticipantID: "B", ShareAmount: share},
		},
	}

	sheet := AggregateBalances("trip-1", []types.ExpenseWithSplits{subset}, roster)
	assert.Equal(t, valueobjects.Zero, sheet.Balances["D"])
	assert.Contains(t, sheet.Balances, "D")
	assert.Equal(t, valueobjects.Money(1000), sheet.Balances["A"])
	assert.Equal(t, valueobjects.Money(-1000), sheet.Balances["B"])
}

func TestAggregateBalances_FormerParticipantsStayOnSheet(t *testing.T) {
	share := valueobjects.Money(1500)
	subset := types.ExpenseWithSplits{
		Expense: types.Expense{ID: "e1", PayerID: "X", Amount: 3000, SplitMode: types.SplitModeSubset},
		Splits: []types.ExpenseSplit{
			{ExpenseID: "e1", ParticipantID: "A", ShareAmount: share},
			{ExpenseID: "e1", ParticipantID: "Y", ShareAmount: share},
		},
	}

	// X and Y have left the trip.
	sheet := AggregateBalances("trip-1", []types.ExpenseWithSplits{subset}, []string{"A"})
	assert.Equal(t, valueobjects.Money(3000), sheet.Balances["X"])
	assert.Equal(t, valueobjects.Money(-1500), sheet.Balances["Y"])
	assert.Equal(t, valueobjects.Zero, Sum(sheet.Balances))
}

func TestAggregateBalances_ZeroSumOverManyExpenses(t *testing.T) {
	roster := []string{"ana", "ben", "cho", "dev", "eli"}
	var expenses []types.ExpenseWithSplits
	amount := valueobjects.Money(101)
	for i := 0; i < 60; i++ {
		payer := roster[i%len(roster)]
		if i%3 == 0 {
			splits, err := EqualSplit("s", amount, roster[:2+i%3], payer)
			require.NoError(t, err)
			expenses = append(expenses, types.ExpenseWithSplits{
				Expense: types.Expense{ID: "s", PayerID: payer, Amount: amount, SplitMode: types.SplitModeSubset},
				Splits:  splits,
			})
		} else {
			expenses = append(expenses, allModeExpense(t, "a", payer, amount, roster))
		}
		amount = amount*7%99991 + 13
	}

	sheet := AggregateBalances("trip-1", expenses, roster)
	assert.Equal(t, valueobjects.Zero, Sum(sheet.Balances))
	assert.Len(t, sheet.Balances, len(roster))
}

func TestBalanceSheet_OutstandingIncludesSettledOnlyParticipants(t *testing.T) {
	sheet := types.BalanceSheet{
		Balances: map[string]valueobjects.Money{"A": 100},
		Settled:  map[string]valueobjects.Money{"Q": 40},
	}
	out := sheet.Outstanding()
	assert.Equal(t, valueobjects.Money(100), out["A"])
	assert.Equal(t, valueobjects.Money(-40), out["Q"])
}
