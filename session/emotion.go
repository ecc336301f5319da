package session

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

const topEmotionCount = 3

// TopEmotions formats the n highest prosody scores as "name: 0.00", highest
// first, ties broken by name.
func TopEmotions(scores map[string]float64, n int) string {
	if len(scores) == 0 || n <= 0 {
		return ""
	}
	type entry struct {
		name  string
		score float64
	}
	entries := make([]entry, 0, len(scores))
	for name, score := range scores {
		entries = append(entries, entry{name, score})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s: %.2f", e.name, e.score)
	}
	return strings.Join(parts, ", ")
}
