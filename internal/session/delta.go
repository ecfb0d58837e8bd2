package session

import "strings"

// WordDelta returns the words next adds on top of prev. When next does not
// extend prev word by word, the whole of next is returned. An unchanged
// partial yields "".
func WordDelta(prev, next string) string {
	prevWords := strings.Fields(prev)
	nextWords := strings.Fields(next)

	if len(nextWords) < len(prevWords) {
		return strings.Join(nextWords, " ")
	}
	for i, w := range prevWords {
		if nextWords[i] != w {
			return strings.Join(nextWords, " ")
		}
	}
	return strings.Join(nextWords[len(prevWords):], " ")
}

// joinText appends b to a with a single space when both are non-empty.
func joinText(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
