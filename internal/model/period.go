package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// NormalizePeriod truncates t to the first day of its calendar month
// in UTC. All period keys are stored in this form.
func NormalizePeriod(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ParsePeriod parses a reporting period given as YYYY-MM or
// YYYY-MM-DD and normalizes it.
func ParsePeriod(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NormalizePeriod(t), nil
		}
	}
	return time.Time{}, eris.Errorf("model: invalid period %q (want YYYY-MM)", s)
}
