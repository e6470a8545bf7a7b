package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var emailRegex = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// ValidateFiscalCode checks the structural pattern of an Italian fiscal code.
// The check is case-insensitive; callers store the uppercased value.
func ValidateFiscalCode(s string) error {
	if len(s) != FiscalCodeLength {
		return invalid(FieldFiscalCode, fmt.Sprintf("must be %d characters", FiscalCodeLength))
	}
	switch {
	case !allOf(s[0:6], isLetter):
		return invalid(FieldFiscalCode, "characters 1-6 must be letters")
	case !allOf(s[6:8], isDigit):
		return invalid(FieldFiscalCode, "characters 7-8 must be digits")
	case !isLetter(s[8]):
		return invalid(FieldFiscalCode, "character 9 must be a letter")
	case !allOf(s[9:11], isDigit):
		return invalid(FieldFiscalCode, "characters 10-11 must be digits")
	case !allOf(s[11:16], isAlnum):
		return invalid(FieldFiscalCode, "characters 12-16 must be alphanumeric")
	}
	return nil
}

// ValidateHealthCard checks a 20-digit health-card number:
// "80" + "380" + "00" + region code + 10-digit serial.
func ValidateHealthCard(s string) error {
	if len(s) != HealthCardLength {
		return invalid(FieldHealthCard, fmt.Sprintf("must be %d characters", HealthCardLength))
	}
	if !allOf(s, isDigit) {
		return invalid(FieldHealthCard, "must contain only digits")
	}
	if s[0:2] != HealthCardType {
		return invalid(FieldHealthCard, "card type must be "+HealthCardType)
	}
	if s[2:5] != HealthCardCountry {
		return invalid(FieldHealthCard, "country code must be "+HealthCardCountry)
	}
	if s[5:7] != HealthCardEnte {
		return invalid(FieldHealthCard, "ente code must start with "+HealthCardEnte)
	}
	if _, ok := RegionCodes[s[7:10]]; !ok {
		return invalid(FieldHealthCard, fmt.Sprintf("unknown region code %s", s[7:10]))
	}
	return nil
}

func ValidateEmail(s string) error {
	if !emailRegex.MatchString(s) {
		return invalid(FieldEmail, "malformed address")
	}
	return nil
}

// IsAtLeastTomorrow reports whether the calendar date of ts is on or after
// the day following now. Dates are compared chronologically, so the first
// of next month counts as tomorrow when now is the last day of a month.
func IsAtLeastTomorrow(ts, now time.Time) bool {
	tomorrow := startOfDay(now.In(ts.Location())).AddDate(0, 0, 1)
	return !startOfDay(ts).Before(tomorrow)
}

func IsWeekday(ts time.Time) bool {
	wd := ts.Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

func IsWithinOfficeHours(ts time.Time) bool {
	h := ts.Hour()
	return h >= OfficeOpenHour && h <= OfficeCloseHour
}

// ValidateScheduleWindow applies the booking-date rules in order and
// reports the first one that fails.
func ValidateScheduleWindow(ts, now time.Time) error {
	if ts.IsZero() {
		return invalid(FieldScheduledAt, "is required")
	}
	if !IsAtLeastTomorrow(ts, now) {
		return invalid(FieldScheduledAt, "must be from tomorrow onwards")
	}
	return validateWeeklySlot(ts)
}

// validateWeeklySlot holds the time-independent part of the window.
func validateWeeklySlot(ts time.Time) error {
	if !IsWeekday(ts) {
		return invalid(FieldScheduledAt, "must be a weekday (Monday to Friday)")
	}
	if !IsWithinOfficeHours(ts) {
		return invalid(FieldScheduledAt, fmt.Sprintf("must be between %02d:00 and %02d:59", OfficeOpenHour, OfficeCloseHour))
	}
	return nil
}

// ParseTimestamp parses a record timestamp in local time.
func ParseTimestamp(field, s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, invalid(field, "expected format YYYY-MM-DD HH:MM:SS")
	}
	return t, nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimeLayout)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func allOf(s string, pred func(byte) bool) bool {
	for i := 0; i < len(s); i++ {
		if !pred(s[i]) {
			return false
		}
	}
	return true
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isAlnum(c byte) bool {
	return isLetter(c) || isDigit(c)
}
