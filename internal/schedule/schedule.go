// Package schedule wraps cron expression parsing for habit scheduling.
//
// Habits store standard five-field cron expressions ("0 9 * * 1-5")
// evaluated in the habit's timezone. This package is the only place the
// cron library is touched; stores and workers call [NextRun] and
// [Validate] instead of importing the parser directly.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

// parser accepts the standard five-field cron format with descriptors
// ("@daily", "@every 1h") disabled; habit schedules are always explicit.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks that expr is a parseable five-field cron expression.
// Returns a *[kerr.Error] with code [kerr.CodeValidation] on failure.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return kerr.Wrapf(err, kerr.CodeValidation, "schedule: invalid cron expression %q", expr)
	}
	return nil
}

// NextRun returns the first time after `after` matching the expression,
// evaluated in the named IANA timezone. An empty timezone means UTC.
func NextRun(expr, timezone string, after time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, kerr.Wrapf(err, kerr.CodeValidation, "schedule: invalid cron expression %q", expr)
	}

	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, kerr.Wrapf(err, kerr.CodeValidation, "schedule: unknown timezone %q", timezone)
		}
	}

	return sched.Next(after.In(loc)).UTC(), nil
}

// Describe returns the next few run times for an expression, used by the
// habit validation endpoint to echo the parsed schedule back to the user.
func Describe(expr, timezone string, from time.Time, count int) ([]time.Time, error) {
	runs := make([]time.Time, 0, count)
	next := from
	for range count {
		var err error
		next, err = NextRun(expr, timezone, next)
		if err != nil {
			return nil, err
		}
		runs = append(runs, next)
	}
	return runs, nil
}
