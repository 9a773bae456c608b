// Package match implements the uCODE matcher: catalog lookup plus
// edit-distance scoring that classifies operator input against the known
// command vocabulary with a confidence score.
package match

// Distance computes the Levenshtein edit distance between two strings.
// Operates on runes so multi-byte input does not skew the score.
func Distance(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	// Two-row dynamic programming table.
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// Similarity maps an edit distance to a confidence in [0,1]:
// 1 - distance/max(len(a), len(b)). For fixed-length inputs the score is
// strictly decreasing as distance increases; identical strings score 1.0.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1.0
	}

	score := 1.0 - float64(Distance(a, b))/float64(longest)
	if score < 0 {
		return 0
	}
	return score
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
