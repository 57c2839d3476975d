package statsite

import (
	"regexp"
	"strings"
)

// StringMatch tests metric names against a configured pattern. A pattern is
// an exact string, a prefix match when it ends in "*", or a regular
// expression when it starts with "regex:". A leading "!" inverts the match.
type StringMatch struct {
	test        string
	invertMatch bool
	prefixMatch bool
	regex       *regexp.Regexp
}

// NewStringMatch compiles a pattern. An invalid regex matches nothing.
func NewStringMatch(s string) StringMatch {
	invert := false
	if strings.HasPrefix(s, "!") {
		invert = true
		s = s[1:]
	}

	if strings.HasPrefix(s, "regex:") {
		compiled, _ := regexp.Compile(s[6:])
		return StringMatch{test: s, invertMatch: invert, regex: compiled}
	}

	prefix := false
	if strings.HasSuffix(s, "*") {
		prefix = true
		s = s[:len(s)-1]
	}
	return StringMatch{test: s, invertMatch: invert, prefixMatch: prefix}
}

// Match indicates if the provided string matches the criteria for this StringMatch
func (sm StringMatch) Match(s string) bool {
	if sm.regex != nil {
		return sm.regex.MatchString(s) != sm.invertMatch
	}
	if sm.prefixMatch {
		return strings.HasPrefix(s, sm.test) != sm.invertMatch
	}
	return (s == sm.test) != sm.invertMatch
}

// StringMatchList matches if any of its members match.
type StringMatchList []StringMatch

// MatchAny returns true if s matches anything in the list, false if the
// list is empty.
func (sml StringMatchList) MatchAny(s string) bool {
	for _, sm := range sml {
		if sm.Match(s) {
			return true
		}
	}
	return false
}
