package search

import (
	"strings"
)

// compositeMarker separates intersection keys from prefix keys. Prefixes never
// contain whitespace, so a key holding a space can only be a composite.
const compositeMarker = "and "

// Keys names everything the index writes.
type Keys struct {
	// Data is the hash holding one serialized record per id.
	Data string
	// Root namespaces the per-prefix sets and cached intersections.
	Root string
}

// Prefix returns the sorted-set key for a single prefix.
func (k Keys) Prefix(p string) string {
	return k.Root + ":" + p
}

// Prefixes maps every prefix to its sorted-set key.
func (k Keys) Prefixes(prefixes []string) []string {
	keys := make([]string, len(prefixes))
	for i, p := range prefixes {
		keys[i] = k.Prefix(p)
	}
	return keys
}

// Composite returns the intersection key for an already normalized prefix
// list.
func (k Keys) Composite(prefixes []string) string {
	return k.Root + ":" + compositeMarker + strings.Join(prefixes, " ")
}

// IndexPattern matches every prefix set and intersection under Root.
func (k Keys) IndexPattern() string {
	return escapeGlob(k.Root) + ":*"
}

// IntersectionPattern matches only the cached intersections under Root.
func (k Keys) IntersectionPattern() string {
	return escapeGlob(k.Root) + ":" + compositeMarker + "*"
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
