package hearing

import (
	"regexp"
	"strings"
)

// bracketCodeRe extracts the short-code from a bracketed affiliation label,
// e.g. "Harbor City [HC]" -> "HC".
var bracketCodeRe = regexp.MustCompile(`\[([^\[\]]+)\]`)

// BracketCode returns the bracketed short-code embedded in a label, or ""
// if the label carries none.
func BracketCode(label string) string {
	m := bracketCodeRe.FindStringSubmatch(label)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// Conflicted reports whether a member with the given affiliation labels has
// a conflict of interest against the hearing's party labels. A conflict is
// an exact label match, or a shared bracketed short-code (a member tagged
// "HC Reserve [HC]" conflicts with party label "Harbor City [HC]").
//
// The short-code rule can over-match when two unrelated affiliations share
// a code by coincidence; that behavior is kept as-is.
func Conflicted(partyLabels, memberLabels []string) bool {
	for _, pl := range partyLabels {
		if pl == "" {
			continue
		}
		pcode := BracketCode(pl)
		for _, ml := range memberLabels {
			if ml == "" {
				continue
			}
			if strings.EqualFold(pl, ml) {
				return true
			}
			if pcode != "" && strings.EqualFold(pcode, BracketCode(ml)) {
				return true
			}
		}
	}
	return false
}

// FirstAffiliation picks the member's primary affiliation: the first label
// carrying a bracket code. Labels without a code (plain roles like
// "Moderator") do not identify a side in a dispute.
func FirstAffiliation(labels []string) string {
	for _, l := range labels {
		if BracketCode(l) != "" {
			return l
		}
	}
	return ""
}
