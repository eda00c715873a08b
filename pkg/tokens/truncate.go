package tokens

// Sized is anything with a precomputed token cost.
type Sized interface {
	Tokens() int
}

// NewestSuffix returns the longest suffix of items whose summed token cost
// stays within budget, preserving order. Items are assumed oldest-first, so
// the suffix keeps the newest entries. Returns nil when even the newest
// item exceeds the budget.
func NewestSuffix[T Sized](items []T, budget int) []T {
	if budget <= 0 || len(items) == 0 {
		return nil
	}
	total := 0
	start := len(items)
	for i := len(items) - 1; i >= 0; i-- {
		total += items[i].Tokens()
		if total > budget {
			break
		}
		start = i
	}
	if start == len(items) {
		return nil
	}
	return items[start:]
}
