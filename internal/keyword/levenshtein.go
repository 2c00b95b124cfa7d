package keyword

// EditDistance is the optimal-string-alignment distance between two terms.
// Insertions, deletions, substitutions and adjacent transpositions cost one each.
func EditDistance(a, b string) int {
	d, _ := WithinDistance(a, b, -1)
	return d
}

// WithinDistance returns the edit distance between a and b and whether it is at
// most limit. A whole-vocabulary scan calls it once per indexed term, so it
// gives up as soon as a row of the table exceeds limit; the returned distance
// is then only a lower bound. A negative limit means unbounded.
func WithinDistance(a, b string, limit int) (int, bool) {
	if a == b {
		return 0, true
	}
	ra, rb := []rune(a), []rune(b)
	if gap := len(ra) - len(rb); limit >= 0 && (gap > limit || -gap > limit) {
		return max(gap, -gap), false
	}
	if len(ra) == 0 || len(rb) == 0 {
		return len(ra) + len(rb), true
	}

	// Three rolling rows: i-2, i-1 and i.
	prev2 := make([]int, len(rb)+1)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		rowMin := i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			v := min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				v = min(v, prev2[j-2]+cost)
			}
			cur[j] = v
			rowMin = min(rowMin, v)
		}
		if limit >= 0 && rowMin > limit {
			return rowMin, false
		}
		prev2, prev, cur = prev, cur, prev2
	}
	d := prev[len(rb)]
	return d, limit < 0 || d <= limit
}
