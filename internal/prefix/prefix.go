// Package prefix derives the leading substrings a name is indexed under.
// Input is lower-cased and split on Unicode whitespace; every word of n runes
// contributes its leading substrings of MinLength..n runes.
package prefix

import "strings"

// MinLength is the shortest prefix emitted. Single characters are too
// unselective to be worth a sorted set each.
const MinLength = 2

// Generate returns the prefixes of every whitespace-delimited word of s, in
// word order and then by increasing length. Repeated words yield repeated
// prefixes.
func Generate(s string) []string {
	words := strings.Fields(strings.ToLower(s))
	prefixes := make([]string, 0, len(words)*4)
	for _, word := range words {
		runes := []rune(word)
		for i := MinLength; i <= len(runes); i++ {
			prefixes = append(prefixes, string(runes[:i]))
		}
	}
	return prefixes
}

// Unique drops repeated prefixes, keeping the first occurrence of each.
func Unique(prefixes []string) []string {
	seen := make(map[string]struct{}, len(prefixes))
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// For returns the distinct prefixes of s.
func For(s string) []string {
	return Unique(Generate(s))
}
