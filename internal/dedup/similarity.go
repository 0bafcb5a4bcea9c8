package dedup

// Similarity computes a ratio in [0,1] between two strings: twice the total
// length of matching blocks over the combined length, where matching blocks
// are found by recursively taking the longest common substring. Equal strings
// score 1.0; disjoint strings score 0.0.
func Similarity(a, b string) float64 {
	if a == b {
		if len(a) == 0 {
			return 1.0
		}
		return 1.0
	}
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	matched := matchingLength(a, b)
	return 2.0 * float64(matched) / float64(total)
}

// matchingLength sums the lengths of non-overlapping common blocks, longest
// first.
func matchingLength(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingLength(a[:ai], b[:bi]) +
		matchingLength(a[ai+size:], b[bi+size:])
}

// longestCommonSubstring returns the start offsets and length of the longest
// substring common to a and b, preferring the earliest occurrence.
func longestCommonSubstring(a, b string) (ai, bi, size int) {
	// prev[j] holds the common-suffix length ending at a[i-1], b[j-1].
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > size {
					size = curr[j]
					ai = i - size
					bi = j - size
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return ai, bi, size
}
