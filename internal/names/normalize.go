package names

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var zip5Pattern = regexp.MustCompile(`^\s*(\d{5})`)

// OwnerKey derives the deduplication identity for a raw owner field:
// the first parsed co-owner's "first last", lowercased, with everything
// but letters, digits, whitespace, and apostrophes stripped. Returns ""
// when no person parses; callers must treat an empty key as "no
// identity" and never merge two empty keys as the same owner.
func OwnerKey(raw string) string {
	people := SplitPersonNames(raw)
	if len(people) == 0 {
		return ""
	}

	s := strings.ToLower(strings.TrimSpace(people[0].First + " " + people[0].Last))
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '\'' {
			b.WriteRune(r)
		}
	}
	return collapseSpaces(b.String())
}

// CleanOwnerName is cosmetic cleanup for display and export: punctuation
// noise stripped (hyphens and apostrophes kept), whitespace collapsed,
// title case token by token. Never used for identity comparison.
func CleanOwnerName(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '-' || r == '\'' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	tokens := strings.Fields(b.String())
	for i, tok := range tokens {
		tokens[i] = titleCase(tok)
	}
	return strings.Join(tokens, " ")
}

// CleanAddress collapses all whitespace and newlines without changing case
func CleanAddress(raw string) string {
	return collapseSpaces(raw)
}

// ParseNumber parses a currency-ish string, stripping "$" and ",".
// Returns 0 for empty, malformed, or non-finite input; never fails.
func ParseNumber(v string) float64 {
	s := strings.TrimSpace(v)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Zip5 extracts the leading 5-digit ZIP from a raw value ("78756-1234"
// yields "78756"). Returns "" when no 5-digit prefix is present.
func Zip5(raw string) string {
	m := zip5Pattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1]
}

func titleCase(tok string) string {
	runes := []rune(strings.ToLower(tok))
	upperNext := true
	for i, r := range runes {
		if upperNext && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			upperNext = false
		}
		// Restart capitalization after internal separators (O'Brien, Smith-Jones)
		if r == '\'' || r == '-' {
			upperNext = true
		}
	}
	return string(runes)
}
