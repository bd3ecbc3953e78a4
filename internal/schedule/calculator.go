// Package schedule computes when the next scheduled run is due and drives
// scheduled runs from a polling loop.
package schedule

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"MailCourier/internal/models"
)

const DefaultTimeOfDay = "09:00"

var (
	ErrInvalidTimeOfDay = errors.New("invalid time of day")
	ErrInvalidDay       = errors.New("invalid schedule day")
)

// CalculateNextRun returns the first run strictly after now.
//
// Weekly days are time.Weekday values (Sunday is 0) and default to Monday.
// Monthly days are days of the month and default to the 1st; only days later
// than today count for the current month, otherwise the first listed day of
// the next month is used. Unknown frequencies behave as daily.
func CalculateNextRun(s models.Schedule, now time.Time) (time.Time, error) {
	hour, minute, err := parseTimeOfDay(s.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	switch s.Frequency {
	case models.FrequencyWeekly:
		return nextWeekly(now, hour, minute, s.Days)
	case models.FrequencyMonthly:
		return nextMonthly(now, hour, minute, s.Days)
	default:
		return nextDaily(now, hour, minute), nil
	}
}

// NextRunOrFallback is CalculateNextRun that falls back to one hour from now
// when the schedule cannot be computed.
func NextRunOrFallback(s models.Schedule, now time.Time, logger *zap.Logger) time.Time {
	next, err := CalculateNextRun(s, now)
	if err != nil {
		fallback := now.Add(time.Hour)
		logger.Error("failed to calculate next run, retrying in an hour",
			zap.String("frequency", string(s.Frequency)),
			zap.String("time_of_day", s.TimeOfDay),
			zap.Ints("days", s.Days),
			zap.Time("next_run", fallback),
			zap.Error(err),
		)
		return fallback
	}
	return next
}

func parseTimeOfDay(s string) (int, int, error) {
	if s == "" {
		s = DefaultTimeOfDay
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return t.Hour(), t.Minute(), nil
}

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func nextDaily(now time.Time, hour, minute int) time.Time {
	c := at(now, hour, minute)
	if !c.After(now) {
		c = c.AddDate(0, 0, 1)
	}
	return c
}

func nextWeekly(now time.Time, hour, minute int, days []int) (time.Time, error) {
	if len(days) == 0 {
		days = []int{int(time.Monday)}
	}

	var best time.Time
	for _, d := range days {
		if d < 0 || d > 6 {
			return time.Time{}, fmt.Errorf("%w: weekday %d", ErrInvalidDay, d)
		}
		offset := (d - int(now.Weekday()) + 7) % 7
		c := at(now.AddDate(0, 0, offset), hour, minute)
		if offset == 0 && !c.After(now) {
			c = c.AddDate(0, 0, 7)
		}
		if best.IsZero() || c.Before(best) {
			best = c
		}
	}
	return best, nil
}

func nextMonthly(now time.Time, hour, minute int, days []int) (time.Time, error) {
	if len(days) == 0 {
		days = []int{1}
	}
	for _, d := range days {
		if d < 1 || d > 31 {
			return time.Time{}, fmt.Errorf("%w: day of month %d", ErrInvalidDay, d)
		}
	}
	sorted := slices.Clone(days)
	slices.Sort(sorted)

	loc := now.Location()
	year, month, today := now.Date()

	last := daysIn(year, month)
	for _, d := range sorted {
		if d > today && d <= last {
			return time.Date(year, month, d, hour, minute, 0, 0, loc), nil
		}
	}

	// time.Date normalises month 13 into January of the next year.
	first := time.Date(year, month+1, 1, 0, 0, 0, 0, loc)
	nextYear, nextMonth := first.Year(), first.Month()
	nextLast := daysIn(nextYear, nextMonth)
	day := nextLast
	for _, d := range sorted {
		if d <= nextLast {
			day = d
			break
		}
	}
	return time.Date(nextYear, nextMonth, day, hour, minute, 0, 0, loc), nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
