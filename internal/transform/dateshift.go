// Package transform — dateshift.go
//
// Date shifting moves every date for a subject by the same per-subject
// offset, preserving intervals (a 5-day gap stays a 5-day gap) while
// breaking the link to real calendar dates. The shifted date is rendered
// in the same layout the input was parsed with, so "03/12/1958" stays
// slash-style and "1958-03-12" stays ISO.
package transform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"time"
)

// Date-shift offsets are drawn from [minShiftDays, minShiftDays+shiftRange).
// Large enough to break weekday and season inference, small enough to keep
// clinical timelines plausible.
const (
	minShiftDays = 30
	shiftRange   = 61
)

// defaultShiftDays applies when no subject id accompanies a document.
const defaultShiftDays = 30

// dateLayouts is the ordered layout list tried by shiftDateText. US
// month-first forms come before day-first forms, so an ambiguous
// "03/12/1958" parses as March 12. Day-first forms still catch inputs
// whose day field rules out a month, like "15/01/2023".
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"01/02/06",
	"01-02-2006",
	"01-02-06",
	"02/01/2006",
	"02/01/06",
	"02-01-2006",
	"02-01-06",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"2006/01/02",
	"20060102",
}

// shiftDateText parses raw against the layout list, shifts it by days, and
// re-renders it in the matched layout. The second return is false when no
// layout matches; raw is then returned unchanged.
func shiftDateText(raw string, days int) (string, bool) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return t.AddDate(0, 0, days).Format(layout), true
	}
	return raw, false
}

// computeShiftDays derives a subject's offset from the keyed hash of its
// id, so the same subject gets the same offset in every run sharing a salt.
func computeShiftDays(salt, subjectID string) int {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(subjectID + "|date_shift"))
	sum := mac.Sum(nil)
	return minShiftDays + int(binary.BigEndian.Uint64(sum[:8])%shiftRange)
}
