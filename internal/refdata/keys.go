package refdata

import (
	"regexp"
	"strconv"
)

var memberDigits = regexp.MustCompile(`\d+`)

// MemberKey derives the internal member key from the numeric portion of the
// external member identifier, the convention the member dimension is keyed
// by. Identifiers with no digits, or digit runs too long for an int64,
// resolve to the fallback key.
func MemberKey(memberID string, fallback int64) int64 {
	digits := memberDigits.FindString(memberID)
	if digits == "" {
		return fallback
	}
	key, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return fallback
	}
	return key
}
