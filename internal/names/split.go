package names

import (
	"regexp"
	"strings"

	"parcelscope/internal/model"
)

// separatorPattern matches the co-owner joiners found in raw owner
// fields: "&", "/", ";", "|", and the word "AND".
var separatorPattern = regexp.MustCompile(`(?i)\s*(?:&|;|\||/|\bAND\b)\s*`)

// titlePattern strips one leading courtesy title
var titlePattern = regexp.MustCompile(`(?i)^(?:MR|MRS|MS|DR|MISS)\.?\s+`)

// suffixPattern strips one trailing generational or professional suffix
var suffixPattern = regexp.MustCompile(`(?i)[,\s]+(?:JR|SR|II|III|IV|V|MD|ESQ|PHD)\.?$`)

// surnameParticles join with the final token to form a compound last
// name ("VAN DYKE", "DE LA CRUZ" keeps "LA CRUZ").
var surnameParticles = []string{"DE", "DA", "DEL", "LA", "VAN", "VON", "MC", "MAC", "O'"}

// SplitPersonNames parses a raw owner field, possibly holding several
// co-owners, into structured person records. Non-person input yields an
// empty slice: the splitter never guesses a business name into a person,
// and a rejected segment contributes nothing, so multi-owner strings may
// legitimately yield fewer records than separator-delimited segments.
func SplitPersonNames(raw string) []model.PersonName {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var out []model.PersonName
	for _, segment := range separatorPattern.Split(raw, -1) {
		segment = cleanSegment(segment)
		if segment == "" {
			continue
		}
		if !IsLikelyPersonName(segment) {
			continue
		}

		full := stripTitles(segment)
		tokens := strings.Fields(full)
		if len(tokens) == 0 {
			continue
		}

		out = append(out, assignNameParts(tokens, full))
	}
	return out
}

// cleanSegment trims a candidate segment, drops enclosing parentheses,
// and rewrites "LAST, FIRST MIDDLE" comma order to "FIRST MIDDLE LAST".
func cleanSegment(segment string) string {
	s := strings.TrimSpace(segment)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if idx := strings.Index(s, ","); idx >= 0 {
		last := strings.TrimSpace(s[:idx])
		rest := strings.TrimSpace(strings.ReplaceAll(s[idx+1:], ",", " "))
		// A suffix trailing the given names ("Smith, John A, Jr") would
		// otherwise end up mid-string where the trailing pattern misses it
		rest = suffixPattern.ReplaceAllString(" "+rest, "")
		s = strings.TrimSpace(rest + " " + last)
	}

	return collapseSpaces(s)
}

// stripTitles removes one leading title and any trailing suffixes
func stripTitles(s string) string {
	s = titlePattern.ReplaceAllString(s, "")
	for {
		stripped := suffixPattern.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.TrimSpace(s)
}

// assignNameParts distributes whitespace tokens into first/middle/last
func assignNameParts(tokens []string, full string) model.PersonName {
	switch len(tokens) {
	case 1:
		return model.PersonName{First: tokens[0], Full: full}
	case 2:
		return model.PersonName{First: tokens[0], Last: tokens[1], Full: full}
	}

	// Compound surname: particle + final token form the last name
	if isSurnameParticle(tokens[len(tokens)-2]) {
		last := tokens[len(tokens)-2] + " " + tokens[len(tokens)-1]
		middle := strings.Join(tokens[1:len(tokens)-2], " ")
		return model.PersonName{First: tokens[0], Middle: middle, Last: last, Full: full}
	}

	return model.PersonName{
		First:  tokens[0],
		Middle: strings.Join(tokens[1:len(tokens)-1], " "),
		Last:   tokens[len(tokens)-1],
		Full:   full,
	}
}

func isSurnameParticle(token string) bool {
	upper := strings.ToUpper(token)
	for _, p := range surnameParticles {
		if upper == p {
			return true
		}
	}
	return false
}
