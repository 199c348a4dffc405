package engine

import (
	"sort"

	"tickgrabber/internal/model"
)

// Select filters and ranks seat candidates. Candidates above maxPrice are
// dropped unless maxPrice is 0 (unlimited); candidates outside preferred
// are dropped unless preferred is empty (any category). The result is a
// new slice sorted by ascending price, ties keeping discovery order so
// identical-price seats pick deterministically. Pure: inputs are never
// mutated, and results are recomputed every poll cycle because
// availability shifts between cycles.
func Select(candidates []model.SeatCandidate, maxPrice int, preferred []string) []model.SeatCandidate {
	var wanted map[string]bool
	if len(preferred) > 0 {
		wanted = make(map[string]bool, len(preferred))
		for _, cat := range preferred {
			wanted[cat] = true
		}
	}

	selected := make([]model.SeatCandidate, 0, len(candidates))
	for _, c := range candidates {
		if maxPrice > 0 && c.Price > maxPrice {
			continue
		}
		if wanted != nil && !wanted[c.Category] {
			continue
		}
		selected = append(selected, c)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Price < selected[j].Price
	})
	return selected
}
