package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tickgrabber/internal/model"
)

func seat(id, category string, price int) model.SeatCandidate {
	return model.SeatCandidate{ID: id, Category: category, Price: price, TargetID: "t1"}
}

func TestSelectPriceCeilingAndTieOrder(t *testing.T) {
	candidates := []model.SeatCandidate{
		seat("A", "GA", 120),
		seat("B", "GA", 80),
		seat("C", "GA", 80),
	}

	got := Select(candidates, 100, nil)

	assert.Equal(t, []model.SeatCandidate{seat("B", "GA", 80), seat("C", "GA", 80)}, got,
		"price-ascending with original order preserved on ties")
}

func TestSelectUnlimitedPriceWithPreferredCategory(t *testing.T) {
	candidates := []model.SeatCandidate{
		seat("v", "VIP", 500),
		seat("g", "GA", 50),
	}

	got := Select(candidates, 0, []string{"VIP"})

	assert.Equal(t, []model.SeatCandidate{seat("v", "VIP", 500)}, got)
}

func TestSelectEmptyPreferenceAcceptsAllCategories(t *testing.T) {
	candidates := []model.SeatCandidate{
		seat("a", "VIP", 300),
		seat("b", "GA", 50),
		seat("c", "Balcony", 120),
	}

	got := Select(candidates, 0, nil)

	assert.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.Equal(t, "a", got[2].ID)
}

func TestSelectOutputIsSubsetAndIdempotent(t *testing.T) {
	candidates := []model.SeatCandidate{
		seat("a", "VIP", 300),
		seat("b", "GA", 90),
		seat("c", "GA", 40),
		seat("d", "Balcony", 150),
		seat("e", "VIP", 90),
	}

	first := Select(candidates, 200, []string{"GA", "VIP"})
	second := Select(first, 200, []string{"GA", "VIP"})

	assert.Equal(t, first, second, "reapplying select to its own output changes nothing")

	inputs := make(map[string]bool)
	for _, c := range candidates {
		inputs[c.ID] = true
	}
	for _, c := range first {
		assert.True(t, inputs[c.ID], "output must be a subset of the input")
		assert.LessOrEqual(t, c.Price, 200)
		assert.Contains(t, []string{"GA", "VIP"}, c.Category)
	}
}

func TestSelectDoesNotMutateInput(t *testing.T) {
	candidates := []model.SeatCandidate{
		seat("a", "GA", 90),
		seat("b", "GA", 40),
	}
	original := make([]model.SeatCandidate, len(candidates))
	copy(original, candidates)

	Select(candidates, 0, nil)

	assert.Equal(t, original, candidates)
}

func TestSelectNoMatches(t *testing.T) {
	candidates := []model.SeatCandidate{seat("a", "GA", 90)}

	assert.Empty(t, Select(candidates, 50, nil))
	assert.Empty(t, Select(candidates, 0, []string{"VIP"}))
	assert.Empty(t, Select(nil, 0, nil))
}
