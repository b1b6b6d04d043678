package normalizer

import "strings"

// MatchByName resolves name against candidates. Exact case-insensitive
// matches win; otherwise a candidate matches when either name contains the
// other. The caller must treat more than one result as ambiguous.
func MatchByName[T any](candidates []T, name string, nameOf func(T) string) []T {
	needle := normalizeName(name)
	if needle == "" {
		return nil
	}

	var exact, fuzzy []T
	for _, c := range candidates {
		hay := normalizeName(nameOf(c))
		if hay == "" {
			continue
		}
		switch {
		case hay == needle:
			exact = append(exact, c)
		case strings.Contains(hay, needle) || strings.Contains(needle, hay):
			fuzzy = append(fuzzy, c)
		}
	}

	if len(exact) > 0 {
		return exact
	}
	return fuzzy
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
