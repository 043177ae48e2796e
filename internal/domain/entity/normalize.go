package entity

import "strings"

// Generational suffixes stripped from the tail of a name. "Michael Smith
// Jr." and "Michael Smith" normalize identically.
var nameSuffixes = map[string]struct{}{
	"jr":  {},
	"sr":  {},
	"ii":  {},
	"iii": {},
	"iv":  {},
	"v":   {},
}

// Affiliation phrases rewritten to one canonical token so "Lincoln HS"
// and "Lincoln High School" collide.
var affiliationRules = [][2]string{
	{" senior high school ", " hs "},
	{" junior high school ", " jhs "},
	{" high school ", " hs "},
	{" preparatory school ", " prep "},
	{" preparatory ", " prep "},
	{" university ", " univ "},
	{" community college ", " cc "},
	{" saint ", " st "},
}

// NormalizeName lowercases, strips punctuation and generational
// suffixes, and collapses whitespace. An empty result means the record
// cannot participate in identity resolution.
func NormalizeName(raw string) string {
	tokens := tokenize(raw)
	for len(tokens) > 1 {
		last := tokens[len(tokens)-1]
		if _, ok := nameSuffixes[last]; !ok {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// NormalizeAffiliation applies the name cleanup plus school/institution
// phrase rewrites.
func NormalizeAffiliation(raw string) string {
	cleaned := strings.Join(tokenize(raw), " ")
	if cleaned == "" {
		return ""
	}

	padded := " " + cleaned + " "
	for _, rule := range affiliationRules {
		padded = strings.ReplaceAll(padded, rule[0], rule[1])
	}
	return strings.TrimSpace(padded)
}

func tokenize(raw string) []string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}
