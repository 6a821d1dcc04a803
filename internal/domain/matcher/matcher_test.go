package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func makeTransaction(id, label string, amount float64, date time.Time) Transaction {
	return Transaction{ID: id, Label: label, Amount: amount, Date: date}
}

func TestMatch_PerfectMatch(t *testing.T) {
	// Arrange
	m := NewMatcher(DefaultConfig())
	receipt := Receipt{Merchant: "TESCO", Date: day(2024, 10, 17), Amount: 45.99}
	candidates := []Transaction{
		makeTransaction("tx1", "TESCO STORES 2847", -45.99, day(2024, 10, 17)),
	}

	// Act
	results := m.Match(receipt, candidates)

	// Assert - 40 date + 40 amount + 20 merchant
	require.Len(t, results, 1)
	assert.Equal(t, 100, results[0].Score)
	assert.Contains(t, results[0].Rationale, "exact date")
	assert.Contains(t, results[0].Rationale, "exact amount")
	assert.Contains(t, results[0].Rationale, "merchant match")
}

func TestMatch_OutsideDateWindowExcluded(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	receipt := Receipt{Merchant: "TESCO", Date: day(2024, 10, 17), Amount: 45.99}
	candidates := []Transaction{
		makeTransaction("tx1", "TESCO STORES 2847", -45.99, day(2024, 10, 21)), // 4 days out
	}

	results := m.Match(receipt, candidates)

	assert.Empty(t, results, "candidates outside the window are excluded entirely")
}

func TestMatch_AmountGate(t *testing.T) {
	m := NewMatcher(Config{DateWindowDays: 3, AmountTolerance: 0.10})
	receipt := Receipt{Merchant: "TESCO", Date: day(2024, 10, 17), Amount: 45.99}

	// Within absolute tolerance
	within := m.Match(receipt, []Transaction{
		makeTransaction("tx1", "TESCO", -46.09, day(2024, 10, 17)),
	})
	require.Len(t, within, 1)
	assert.Contains(t, within[0].Rationale, "amount within tolerance")

	// Beyond both tolerances
	outside := m.Match(receipt, []Transaction{
		makeTransaction("tx2", "TESCO", -48.99, day(2024, 10, 17)),
	})
	assert.Empty(t, outside)
}

func TestMatch_RelativeToleranceFallback(t *testing.T) {
	// 2.00 over on a 100.00 receipt fails the absolute gate (0.10) but
	// passes the 5% relative gate.
	m := NewMatcher(Config{DateWindowDays: 3, AmountTolerance: 0.10, RelativeTolerance: 0.05})
	receipt := Receipt{Merchant: "TESCO", Date: day(2024, 10, 17), Amount: 100.00}

	results := m.Match(receipt, []Transaction{
		makeTransaction("tx1", "TESCO", -102.00, day(2024, 10, 17)),
	})

	require.Len(t, results, 1)
	assert.Contains(t, results[0].Rationale, "amount within tolerance")
}

func TestMatch_DateDecay(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	receipt := Receipt{Merchant: "TESCO", Date: day(2024, 10, 17), Amount: 45.99}

	tests := []struct {
		date time.Time
		want int // 40/35/28/20 date points + 40 amount + 20 merchant
	}{
		{day(2024, 10, 17), 100},
		{day(2024, 10, 18), 95},
		{day(2024, 10, 19), 88},
		{day(2024, 10, 20), 80},
	}

	for _, tt := range tests {
		results := m.Match(receipt, []Transaction{
			makeTransaction("tx1", "TESCO", -45.99, tt.date),
		})
		require.Len(t, results, 1, "date %s", tt.date)
		assert.Equal(t, tt.want, results[0].Score, "date %s", tt.date)
	}
}

func TestMatch_BelowFiftyExcluded(t *testing.T) {
	// Window-edge date (20) + tolerance amount (30) + no merchant = 50,
	// still included; anything less would be dropped. Force a sub-50
	// score with a far date and unrelated merchant.
	m := NewMatcher(DefaultConfig())
	receipt := Receipt{Merchant: "TESCO", Date: day(2024, 10, 17), Amount: 45.99}

	results := m.Match(receipt, []Transaction{
		makeTransaction("tx1", "RANDOM SHOP", -46.05, day(2024, 10, 20)),
	})

	require.Len(t, results, 1)
	assert.Equal(t, 50, results[0].Score)
}

func TestMatch_RankingAndTieBreaks(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	receipt := Receipt{Merchant: "TESCO", Date: day(2024, 10, 17), Amount: 45.99}

	candidates := []Transaction{
		makeTransaction("far", "TESCO STORES", -45.99, day(2024, 10, 19)),
		makeTransaction("near", "TESCO STORES", -45.99, day(2024, 10, 18)),
		makeTransaction("exact", "TESCO STORES", -45.99, day(2024, 10, 17)),
	}

	results := m.Match(receipt, candidates)

	require.Len(t, results, 3)
	assert.Equal(t, "exact", results[0].Transaction.ID)
	assert.Equal(t, "near", results[1].Transaction.ID)
	assert.Equal(t, "far", results[2].Transaction.ID)
}

func TestMatch_TieBreaksBySmallerAmountDelta(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	receipt := Receipt{Merchant: "TESCO", Date: day(2024, 10, 17), Amount: 45.99}

	// Same score band (amount within tolerance), same date
	candidates := []Transaction{
		makeTransaction("wide", "TESCO STORES", -46.08, day(2024, 10, 17)),
		makeTransaction("tight", "TESCO STORES", -46.02, day(2024, 10, 17)),
	}

	results := m.Match(receipt, candidates)

	require.Len(t, results, 2)
	assert.Equal(t, "tight", results[0].Transaction.ID)
}

func TestMatch_PartialMerchantMatch(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	receipt := Receipt{Merchant: "TESCO METRO", Date: day(2024, 10, 17), Amount: 45.99}

	results := m.Match(receipt, []Transaction{
		makeTransaction("tx1", "TESCO METRO X", -45.99, day(2024, 10, 17)),
	})

	require.Len(t, results, 1)
	assert.Contains(t, results[0].Rationale, "merchant match")
}

func TestMatch_EmptyCandidates(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	receipt := Receipt{Merchant: "TESCO", Date: day(2024, 10, 17), Amount: 45.99}

	results := m.Match(receipt, nil)

	assert.Empty(t, results)
}

func TestMatch_DoesNotMutateCandidates(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	receipt := Receipt{Merchant: "TESCO", Date: day(2024, 10, 17), Amount: 45.99}
	candidates := []Transaction{
		makeTransaction("b", "TESCO", -45.99, day(2024, 10, 18)),
		makeTransaction("a", "TESCO", -45.99, day(2024, 10, 17)),
	}
	before := make([]Transaction, len(candidates))
	copy(before, candidates)

	_ = m.Match(receipt, candidates)

	assert.Equal(t, before, candidates)
}
