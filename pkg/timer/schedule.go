package timer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidSchedule = errors.New("Invalid schedule")

type Unit string

const (
	Second Unit = "second"
	Minute Unit = "minute"
	Hour   Unit = "hour"
	Day    Unit = "day"
)

var unitDurations = map[Unit]time.Duration{
	Second: time.Second,
	Minute: time.Minute,
	Hour:   time.Hour,
	Day:    24 * time.Hour,
}

// A duration which encodes as a Go duration string ("90s", "5m").
// Plain numbers are accepted when decoding and read as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	return d.set(value)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if tag := node.ShortTag(); tag == "!!int" || tag == "!!float" {
		var seconds float64
		if err := node.Decode(&seconds); err != nil {
			return err
		}
		return d.set(seconds)
	}
	return d.set(node.Value)
}

func (d *Duration) set(value any) error {
	switch v := value.(type) {
	case float64:
		ns := v * float64(time.Second)
		if math.IsNaN(ns) || math.IsInf(ns, 0) || math.Abs(ns) >= math.MaxInt64 {
			return fmt.Errorf("%w: duration out of range %v", ErrInvalidSchedule, v)
		}
		*d = Duration(ns)
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: bad duration %q", ErrInvalidSchedule, v)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("%w: bad duration %v", ErrInvalidSchedule, value)
	}
	return nil
}

// When a process becomes due.
//
// Interval form sets Frequency and Unit. Fixed-clock form sets TimeOfDay,
// optionally restricted to DayOfMonth and evaluated in Timezone.
// Schedule is comparable, the dispatcher detects schedule changes with ==.
type Schedule struct {
	Frequency  float64  `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	Unit       Unit     `json:"unit,omitempty" yaml:"unit,omitempty"`
	TimeOfDay  string   `json:"time_of_day,omitempty" yaml:"time_of_day,omitempty"`
	DayOfMonth int      `json:"day_of_month,omitempty" yaml:"day_of_month,omitempty"`
	Timezone   string   `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Timeout    Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retry      Duration `json:"retry,omitempty" yaml:"retry,omitempty"`
}

func (s *Schedule) IsFixedClock() bool {
	return s.TimeOfDay != ""
}

// Interval length of an interval schedule.
func (s *Schedule) Interval() (time.Duration, error) {
	if math.IsNaN(s.Frequency) || s.Frequency <= 0 {
		return 0, fmt.Errorf("%w: frequency must be positive, got %v", ErrInvalidSchedule, s.Frequency)
	}

	unit, ok := unitDurations[Unit(strings.ToLower(string(s.Unit)))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidSchedule, s.Unit)
	}

	ns := s.Frequency * float64(unit)
	if ns >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: frequency out of range, got %v %s", ErrInvalidSchedule, s.Frequency, s.Unit)
	}
	if ns < 1 {
		return 0, fmt.Errorf("%w: interval shorter than a nanosecond, got %v %s", ErrInvalidSchedule, s.Frequency, s.Unit)
	}

	return time.Duration(ns), nil
}

func (s *Schedule) Validate() error {
	if s.Timeout < 0 || s.Retry < 0 {
		return fmt.Errorf("%w: negative timeout or retry", ErrInvalidSchedule)
	}

	if s.IsFixedClock() {
		_, err := s.clock()
		return err
	}

	_, err := s.Interval()
	return err
}

func (s *Schedule) String() string {
	if s.IsFixedClock() {
		str := "at " + s.TimeOfDay
		if s.DayOfMonth > 0 {
			str += fmt.Sprintf(" on day %d", s.DayOfMonth)
		}
		if s.Timezone != "" {
			str += " " + s.Timezone
		}
		return str
	}
	return fmt.Sprintf("every %v %s", s.Frequency, s.Unit)
}
