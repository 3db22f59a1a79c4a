package settlement

import (
	"testing"

	"github.com/NomadCrew/nomad-crew-ledger/pkg/valueobjects"
	"github.com/NomadCrew/nomad-crew-ledger/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shareOf(t *testing.T, splits []types.ExpenseSplit, participantID string) valueobjects.Money {
	t.Helper()
	for _, s := range splits {
		if s.ParticipantID == participantID {
			return s.ShareAmount
		}
	}
	t.Fatalf("no split for %s", participantID)
	return 0
}

func sumShares(splits []types.ExpenseSplit) valueobjects.Money {
	var total valueobjects.Money
	for _, s := range splits {
		total += s.ShareAmount
	}
	return total
}

func TestEqualSplit(t *testing.T) {
	tests := []struct {
		name         string
		amount       valueobjects.Money
		participants []string
		payer        string
		want         map[string]valueobjects.Money
	}{
		{
			name:         "even three way",
			amount:       9000,
			participants: []string{"A", "B", "C"},
			payer:        "A",
			want:         map[string]valueobjects.Money{"A": 3000, "B": 3000, "C": 3000},
		},
		{
			name:         "payer absorbs remainder",
			amount:       10000,
			participants: []string{"C", "A", "B"},
			payer:        "B",
			want:         map[string]valueobjects.Money{"A": 3333, "B": 3334, "C": 3333},
		},
		{
			name:         "first id absorbs when payer not sharing",
			amount:       10000,
			participants: []string{"C", "B", "D"},
			payer:        "A",
			want:         map[string]valueobjects.Money{"B": 3334, "C": 3333, "D": 3333},
		},
		{
			name:         "duplicates collapse",
			amount:       1000,
			participants: []string{"A", "B", "A"},
			payer:        "A",
			want:         map[string]valueobjects.Money{"A": 500, "B": 500},
		},
		{
			name:         "amount smaller than participant count",
			amount:       2,
			participants: []string{"A", "B", "C"},
			payer:        "C",
			want:         map[string]valueobjects.Money{"A": 0, "B": 0, "C": 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			splits, err := EqualSplit("exp-1", tt.amount, tt.participants, tt.payer)
			require.NoError(t, err)
			require.Len(t, splits, len(tt.want))
			for id, share := range tt.want {
				assert.Equal(t, share, shareOf(t, splits, id), "share of %s", id)
			}
			assert.Equal(t, tt.amount, sumShares(splits))
			for i := 1; i < len(splits); i++ {
				assert.Less(t, splits[i-1].ParticipantID, splits[i].ParticipantID)
			}
			for _, s := range splits {
				assert.Equal(t, "exp-1", s.ExpenseID)
				assert.False(t, s.Paid)
			}
		})
	}
}

func TestEqualSplit_Errors(t *testing.T) {
	_, err := EqualSplit("exp-1", 1000, nil, "A")
	assert.Error(t, err)

	_, err = EqualSplit("exp-1", 1000, []string{"", ""}, "A")
	assert.Error(t, err)

	_, err = EqualSplit("exp-1", 0, []string{"A"}, "A")
	assert.Error(t, err)
}

func TestEqualSplit_SumInvariant(t *testing.T) {
	participants := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7"}
	for amount := valueobjects.Money(1); amount < 2000; amount += 37 {
		for n := 1; n <= len(participants); n++ {
			splits, err := EqualSplit("e", amount, participants[:n], "p3")
			require.NoError(t, err)
			require.Equal(t, amount, sumShares(splits), "amount %d among %d", amount, n)
		}
	}
}

func TestMaterializeSplits_AllModeUsesLiveRoster(t *testing.T) {
	expense := types.StoredExpense{
		Expense: types.Expense{ID: "exp-1", PayerID: "A", Amount: 9000, SplitMode: types.SplitModeAll},
	}

	splits, err := MaterializeSplits(expense, []string{"A", "B"})
	require.NoError(t, err)
	require.Len(t, splits, 2)
	assert.Equal(t, valueobjects.Money(4500), shareOf(t, splits, "B"))

	// A participant who joins later is retroactively included.
	splits, err = MaterializeSplits(expense, []string{"A", "B", "C"})
	require.NoError(t, err)
	require.Len(t, splits, 3)
	assert.Equal(t, valueobjects.Money(3000), shareOf(t, splits, "C"))
}

func TestMaterializeSplits_AllModeAppliesPaidFlags(t *testing.T) {
	expense := types.StoredExpense{
		Expense: types.Expense{ID: "exp-1", PayerID: "A", Amount: 9000, SplitMode: types.SplitModeAll},
		Splits: []types.StoredSplit{
			{ParticipantID: "C", Paid: true},
			{ParticipantID: "Z", Paid: true}, // no longer on the roster
		},
	}

	splits, err := MaterializeSplits(expense, []string{"A", "B", "C"})
	require.NoError(t, err)
	require.Len(t, splits, 3)
	for _, s := range splits {
		assert.Equal(t, s.ParticipantID == "C", s.Paid, s.ParticipantID)
	}
}

func TestMaterializeSplits_AllModeEmptyRosterFallsBackToPayer(t *testing.T) {
	expense := types.StoredExpense{
		Expense: types.Expense{ID: "exp-1", PayerID: "A", Amount: 500, SplitMode: types.SplitModeAll},
	}

	splits, err := MaterializeSplits(expense, nil)
	require.NoError(t, err)
	require.Len(t, splits, 1)
	assert.Equal(t, "A", splits[0].ParticipantID)
	assert.Equal(t, valueobjects.Money(500), splits[0].ShareAmount)
}

func TestMaterializeSplits_Subset(t *testing.T) {
	share := valueobjects.Money(2500)
	expense := types.StoredExpense{
		Expense: types.Expense{ID: "exp-2", PayerID: "A", Amount: 5000, SplitMode: types.SplitModeSubset},
		Splits: []types.StoredSplit{
			{ParticipantID: "C", Share: &share, Paid: true},
			{ParticipantID: "B", Share: &share},
		},
	}

	// Roster changes never affect subset expenses.
	splits, err := MaterializeSplits(expense, []string{"A", "B", "C", "D"})
	require.NoError(t, err)
	require.Len(t, splits, 2)
	assert.Equal(t, "B", splits[0].ParticipantID)
	assert.Equal(t, "C", splits[1].ParticipantID)
	assert.True(t, splits[1].Paid)
	assert.Equal(t, valueobjects.Money(5000), sumShares(splits))
}

func TestMaterializeSplits_UnknownMode(t *testing.T) {
	expense := types.StoredExpense{
		Expense: types.Expense{ID: "exp-3", PayerID: "A", Amount: 5000, SplitMode: "weighted"},
	}
	_, err := MaterializeSplits(expense, []string{"A"})
	assert.Error(t, err)
}
