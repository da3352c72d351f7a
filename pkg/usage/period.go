package usage

import (
	"time"

	"github.com/dmitrymomot/smartml/pkg/plans"
)

const (
	dailyKeyLayout   = "2006-01-02"
	monthlyKeyLayout = "2006-01"
)

// Period is an accounting window [Start, End) in UTC.
type Period struct {
	Key   string    `json:"key"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PeriodFor derives the accounting period containing now.
// Daily periods are keyed YYYY-MM-DD, monthly periods YYYY-MM.
func PeriodFor(cadence plans.Cadence, now time.Time) Period {
	now = now.UTC()

	if cadence == plans.CadenceDaily {
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return Period{
			Key:   start.Format(dailyKeyLayout),
			Start: start,
			End:   start.AddDate(0, 0, 1),
		}
	}

	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Key:   start.Format(monthlyKeyLayout),
		Start: start,
		End:   start.AddDate(0, 1, 0),
	}
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}
