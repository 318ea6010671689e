package timer

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var t0 = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestNextDueInterval(t *testing.T) {
	tests := []struct {
		frequency float64
		unit      Unit
		interval  time.Duration
	}{
		{1, Second, time.Second},
		{30, Second, 30 * time.Second},
		{5, Minute, 5 * time.Minute},
		{2, Hour, 2 * time.Hour},
		{1, Day, 24 * time.Hour},
		{0.5, Minute, 30 * time.Second},
		{1, "MINUTE", time.Minute},
	}

	for _, test := range tests {
		s := &Schedule{Frequency: test.frequency, Unit: test.unit}
		for _, last := range []time.Time{t0, t0.Add(-time.Hour), time.Unix(0, 0)} {
			due, err := NextDue(s, last, t0)
			assert.NoError(t, err)
			assert.Equal(t, last.Add(test.interval), due, "%v %s from %v", test.frequency, test.unit, last)
		}
	}
}

func TestNextDueInvalid(t *testing.T) {
	schedules := []*Schedule{
		nil,
		{Frequency: 0, Unit: Minute},
		{Frequency: -5, Unit: Minute},
		{Frequency: 5, Unit: "fortnight"},
		{Frequency: 5},
		{Frequency: 1e300, Unit: Day},
		{Frequency: math.Inf(1), Unit: Day},
		{Frequency: math.NaN(), Unit: Day},
		{Frequency: 1e-12, Unit: Second},
		{TimeOfDay: "25:00"},
		{TimeOfDay: "12"},
		{TimeOfDay: "12:60"},
		{TimeOfDay: "1:30"},
		{TimeOfDay: "12:30:61"},
		{TimeOfDay: "ab:cd"},
		{TimeOfDay: "12:00", DayOfMonth: 32},
		{TimeOfDay: "12:00", DayOfMonth: -1},
		{TimeOfDay: "12:00", Timezone: "Mars/Olympus"},
	}

	for _, s := range schedules {
		_, err := NextDue(s, t0, t0)
		assert.ErrorIs(t, err, ErrInvalidSchedule, "%+v", s)
	}
}

func TestNextDueFixedClock(t *testing.T) {
	tests := []struct {
		schedule Schedule
		now      time.Time
		due      time.Time
	}{
		// Later today
		{Schedule{TimeOfDay: "14:30", Timezone: "UTC"}, t0, time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)},
		// Exactly now
		{Schedule{TimeOfDay: "12:00:00", Timezone: "UTC"}, t0, t0},
		// Just missed, tomorrow
		{Schedule{TimeOfDay: "12:00", Timezone: "UTC"}, t0.Add(time.Millisecond), t0.Add(24 * time.Hour)},
		{Schedule{TimeOfDay: "06:15:30", Timezone: "UTC"}, t0, time.Date(2024, 3, 11, 6, 15, 30, 0, time.UTC)},
		// Day of month
		{Schedule{TimeOfDay: "00:00", DayOfMonth: 1, Timezone: "UTC"}, t0, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		{Schedule{TimeOfDay: "12:00", DayOfMonth: 31, Timezone: "UTC"}, t0, time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)},
		// Timezone, 12:00 UTC is 09:00 in Sao Paulo
		{Schedule{TimeOfDay: "10:00", Timezone: "America/Sao_Paulo"}, t0, time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC)},
	}

	for _, test := range tests {
		due, err := NextDue(&test.schedule, time.Time{}, test.now)
		require.NoError(t, err)
		assert.True(t, test.due.Equal(due), "%s: expected %v, got %v", test.schedule.String(), test.due, due)
	}
}

func TestNextDueFixedClockNoDrift(t *testing.T) {
	s := &Schedule{TimeOfDay: "03:07:11", Timezone: "UTC"}

	now := t0
	for i := 0; i < 5; i++ {
		due, err := NextDue(s, time.Time{}, now)
		require.NoError(t, err)
		assert.False(t, due.Before(now))

		again, err := NextDue(s, time.Time{}, due.Add(-time.Nanosecond))
		require.NoError(t, err)
		assert.True(t, due.Equal(again))

		again, err = NextDue(s, time.Time{}, due.Add(-500*time.Millisecond))
		require.NoError(t, err)
		assert.True(t, due.Equal(again))

		now = due.Add(time.Second)
	}
}

func TestFirstDue(t *testing.T) {
	s := &Schedule{Frequency: 5, Unit: Minute}

	due, err := FirstDue(s, true, t0)
	assert.NoError(t, err)
	assert.Equal(t, t0, due)

	due, err = FirstDue(s, false, t0)
	assert.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Minute), due)

	clock := &Schedule{TimeOfDay: "13:00", Timezone: "UTC"}
	due, err = FirstDue(clock, false, t0)
	assert.NoError(t, err)
	assert.True(t, t0.Add(time.Hour).Equal(due))

	_, err = FirstDue(&Schedule{Frequency: 0, Unit: Minute}, true, t0)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestDueAfter(t *testing.T) {
	s := &Schedule{Frequency: 5, Unit: Minute}
	due, err := DueAfter(s, t0)
	assert.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Minute), due)

	clock := &Schedule{TimeOfDay: "12:00", Timezone: "UTC"}
	due, err = DueAfter(clock, t0)
	assert.NoError(t, err)
	assert.True(t, t0.Add(24*time.Hour).Equal(due))
}

// Scenario: a five minute process registered to run immediately.
func TestIntervalScenario(t *testing.T) {
	s := &Schedule{Frequency: 5, Unit: Minute}

	due, err := FirstDue(s, true, t0)
	require.NoError(t, err)
	assert.Equal(t, t0, due)

	due, err = NextDue(s, t0, t0.Add(5*time.Minute-time.Second))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Minute), due)
	assert.True(t, due.After(t0.Add(5*time.Minute-time.Second)))

	now := t0.Add(5 * time.Minute)
	due, err = NextDue(s, t0, now)
	require.NoError(t, err)
	assert.False(t, due.After(now))
}

func TestScheduleEncoding(t *testing.T) {
	var s Schedule
	require.NoError(t, json.Unmarshal([]byte(`{"frequency":5,"unit":"minute","timeout":"10m","retry":30}`), &s))
	assert.Equal(t, Schedule{Frequency: 5, Unit: Minute, Timeout: Duration(10 * time.Minute), Retry: Duration(30 * time.Second)}, s)

	data, err := json.Marshal(&s)
	require.NoError(t, err)
	var decoded Schedule
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s, decoded)

	var y Schedule
	require.NoError(t, yaml.Unmarshal([]byte("time_of_day: \"08:00\"\ntimezone: UTC\nretry: 1m\ntimeout: 90\n"), &y))
	assert.Equal(t, Schedule{TimeOfDay: "08:00", Timezone: "UTC", Retry: Duration(time.Minute), Timeout: Duration(90 * time.Second)}, y)

	assert.Error(t, json.Unmarshal([]byte(`{"timeout":"soon"}`), &s))
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"timeout":1e300}`), &s), ErrInvalidSchedule)
	assert.ErrorIs(t, yaml.Unmarshal([]byte("retry: .inf\n"), &y), ErrInvalidSchedule)

	var nan Schedule
	require.NoError(t, yaml.Unmarshal([]byte("frequency: .nan\nunit: day\n"), &nan))
	assert.ErrorIs(t, nan.Validate(), ErrInvalidSchedule)
}
