// Package names implements the owner-name heuristics: business/residential
// classification, person-name detection, co-owner splitting, and the
// normalized key derivation used to deduplicate owners across records.
//
// The heuristics are deterministic ordered rule pipelines. They are
// best-effort against real-world names; the rules themselves are the
// contract, not correctness on every name.
package names

import (
	"strings"
	"unicode"

	"parcelscope/internal/model"
)

// businessTokens are entity indicators checked in order; first match wins.
var businessTokens = []string{
	"LLC", "L L C", "INC", "INCORPORATED", "CORP", "CORPORATION",
	"LTD", "LP", "LLP", "PLLC", "PLC",
	"TRUST", "TR", "HOLDINGS", "PARTNERS", "PARTNERSHIP",
	"MANAGEMENT", "MGMT", "FOUNDATION", "PROPERTIES", "REALTY",
	"INVESTMENTS", "VENTURES", "ENTERPRISES", "COMPANY", "GROUP",
	"ASSOCIATES", "ASSOCIATION", "ASSN", "CHURCH", "MINISTRIES",
	"BANK", "CITY OF", "COUNTY OF", "STATE OF", "HOA",
}

// negativeTokens mark strings that are neither businesses nor usable
// person names (placeholders, legal annotations, mailing artifacts).
var negativeTokens = []string{
	"UNKNOWN", "VACANT", "ESTATE", "ESTATES", "TRUSTEE", "TRUSTEES",
	"C/O", "PO BOX", "P O BOX", "HEIRS", "DECEASED", "ET AL", "ETAL",
	"CURRENT OWNER",
}

// addressTokens flag segments that are address fragments, not names
var addressTokens = []string{"LOT", "BLK", "BLOCK", "UNIT", "STE", "APT", "HWY"}

// Classify reports whether an owner name looks like a business entity.
// Empty or absent input defaults to residential.
func Classify(name string) model.OwnerClass {
	if strings.TrimSpace(name) == "" {
		return model.OwnerResidential
	}
	if hasAnyToken(name, businessTokens) {
		return model.OwnerBusiness
	}
	return model.OwnerResidential
}

// IsLikelyPersonName is the stricter gate used before accepting a
// residential string as an actual person. Every check is an ordered
// early-exit rejection; only the final state is acceptance.
func IsLikelyPersonName(raw string) bool {
	s := strings.TrimSpace(raw)
	if s == "" {
		return false
	}
	if hasAnyToken(s, negativeTokens) {
		return false
	}
	if hasAnyToken(s, businessTokens) {
		return false
	}

	tokens := strings.Fields(normalizePunct(s))
	if len(tokens) < 2 {
		return false
	}

	short := 0
	for _, tok := range tokens {
		if strings.ContainsAny(tok, "0123456789") {
			return false
		}
		if strings.Contains(tok, "#") {
			return false
		}
		upper := strings.ToUpper(tok)
		for _, addr := range addressTokens {
			if upper == addr {
				return false
			}
		}
		if len(tok) <= 2 {
			short++
		}
	}

	// Mostly-initials strings ("J D S", "A B") are abbreviations, not names
	if short >= len(tokens)-1 {
		return false
	}

	return true
}

// hasAnyToken reports whether any of the given tokens appears in s on
// word boundaries, case-insensitively. Multi-word tokens match across
// the same boundaries ("CITY OF AUSTIN" matches "CITY OF").
func hasAnyToken(s string, tokens []string) bool {
	padded := " " + strings.ToUpper(normalizePunct(s)) + " "
	raw := " " + strings.ToUpper(collapseSpaces(s)) + " "
	for _, tok := range tokens {
		needle := " " + tok + " "
		if strings.Contains(padded, needle) || strings.Contains(raw, needle) {
			return true
		}
	}
	return false
}

// normalizePunct replaces punctuation with spaces, keeping apostrophes,
// hyphens, and '#' (the latter so address markers stay detectable), and
// collapses the result to single spaces.
func normalizePunct(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '-' || r == '#':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return collapseSpaces(b.String())
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
