package timer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var clockParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Cron schedule of a fixed-clock form.
func (s *Schedule) clock() (cron.Schedule, error) {
	parts := strings.Split(s.TimeOfDay, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("%w: malformed time of day %q", ErrInvalidSchedule, s.TimeOfDay)
	}

	limits := []int{23, 59, 59}
	values := []int{0, 0, 0}
	for i, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil || len(part) != 2 || value < 0 || value > limits[i] {
			return nil, fmt.Errorf("%w: malformed time of day %q", ErrInvalidSchedule, s.TimeOfDay)
		}
		values[i] = value
	}

	dom := "*"
	if s.DayOfMonth != 0 {
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return nil, fmt.Errorf("%w: day of month %d out of range", ErrInvalidSchedule, s.DayOfMonth)
		}
		dom = strconv.Itoa(s.DayOfMonth)
	}

	spec := fmt.Sprintf("%d %d %d %s * *", values[2], values[1], values[0], dom)
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidSchedule, s.Timezone)
		}
		spec = "CRON_TZ=" + s.Timezone + " " + spec
	}

	sched, err := clockParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return sched, nil
}

// Computes when a process is next due.
//
// Interval schedules are due exactly one interval after lastRunEnd.
// Fixed-clock schedules are due at the earliest matching whole second at or
// after now; lastRunEnd is not consulted.
func NextDue(s *Schedule, lastRunEnd, now time.Time) (time.Time, error) {
	if s == nil {
		return time.Time{}, fmt.Errorf("%w: no schedule", ErrInvalidSchedule)
	}

	if s.IsFixedClock() {
		sched, err := s.clock()
		if err != nil {
			return time.Time{}, err
		}

		// Next returns the first match strictly after its argument.
		due := sched.Next(now.Add(-time.Nanosecond))
		if due.IsZero() {
			return time.Time{}, fmt.Errorf("%w: %s never matches", ErrInvalidSchedule, s)
		}
		return due, nil
	}

	interval, err := s.Interval()
	if err != nil {
		return time.Time{}, err
	}
	return lastRunEnd.Add(interval), nil
}

// Computes when a process without any previous run is first due.
// Immediate processes are due now. Others wait for their first interval,
// or for the first matching clock time.
func FirstDue(s *Schedule, immediate bool, now time.Time) (time.Time, error) {
	if err := s.validate(); err != nil {
		return time.Time{}, err
	}

	if immediate {
		return now, nil
	}
	return NextDue(s, now, now)
}

// Computes when a process is due after a run which started at lastRun.
// Fixed-clock schedules skip the slot the run was started for.
func DueAfter(s *Schedule, lastRun time.Time) (time.Time, error) {
	return NextDue(s, lastRun, lastRun.Add(time.Nanosecond))
}

func (s *Schedule) validate() error {
	if s == nil {
		return fmt.Errorf("%w: no schedule", ErrInvalidSchedule)
	}
	return s.Validate()
}
