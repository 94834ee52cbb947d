package domain

import "strings"

// NamesMatch compares two person names ignoring case, punctuation and word order
func NamesMatch(a, b string) bool {
	na, nb := nameTokens(a), nameTokens(b)
	if len(na) == 0 || len(na) != len(nb) {
		return false
	}
	seen := make(map[string]int, len(na))
	for _, t := range na {
		seen[t]++
	}
	for _, t := range nb {
		if seen[t] == 0 {
			return false
		}
		seen[t]--
	}
	return true
}

func nameTokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	})
}
