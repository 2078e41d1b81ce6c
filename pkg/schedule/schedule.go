// Package schedule holds the recurring backup schedule: its persisted JSON
// form and the single cron rule derived from it.
package schedule

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/robfig/cron/v3"

	"github.com/supporttools/GoSQLConsole/pkg/validation"
)

// Cadences
const (
	Hourly  = "hourly"
	Daily   = "daily"
	Weekly  = "weekly"
	Monthly = "monthly"
)

var (
	// ErrUnknownSchedule is returned for a cadence other than the four known ones.
	ErrUnknownSchedule = errors.New("unknown schedule")
	// ErrInvalidDay is returned when the day of week or month is out of range.
	ErrInvalidDay = errors.New("invalid schedule day")
)

// Day is a day-of-week or day-of-month number. It is written as a JSON
// string and read from either a string or a number.
type Day int

// MarshalJSON writes the day as a quoted number.
func (d Day) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.Itoa(int(d)))), nil
}

// UnmarshalJSON accepts "3" and 3.
func (d *Day) UnmarshalJSON(data []byte) error {
	raw := string(bytes.TrimSpace(data))
	if raw == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid day %s: %w", string(data), err)
	}
	*d = Day(n)
	return nil
}

// Config is the scheduler configuration edited by the operator.
type Config struct {
	Enabled    bool   `json:"enabled"`
	Schedule   string `json:"schedule" validate:"oneof=hourly daily weekly monthly"`
	Time       string `json:"time" validate:"datetime=15:04"`
	DayOfWeek  Day    `json:"day_of_week" validate:"gte=0,lte=6"`
	DayOfMonth Day    `json:"day_of_month" validate:"gte=1,lte=31"`
}

// Default returns the configuration used when no valid file exists.
func Default() Config {
	return Config{
		Enabled:    false,
		Schedule:   Daily,
		Time:       "00:00",
		DayOfWeek:  1,
		DayOfMonth: 1,
	}
}

// Validate checks the configuration against its field rules.
func (c Config) Validate() error {
	if verr := validation.ValidateStruct(&c); verr != nil {
		return verr
	}
	return nil
}

// ParseTime splits "HH:MM". Malformed or out-of-range input yields 00:00 and
// ok=false.
func ParseTime(s string) (hour, minute int, ok bool) {
	h, m, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, 0, false
	}
	hour, errH := strconv.Atoi(h)
	minute, errM := strconv.Atoi(m)
	if errH != nil || errM != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// CronSpec returns the five-field cron rule for the configuration. Day of
// week uses cron numbering (0 = Sunday). A monthly rule on a day a month
// does not have never fires in that month.
func (c Config) CronSpec() (string, error) {
	hour, minute, _ := ParseTime(c.Time)

	switch c.Schedule {
	case Hourly:
		return fmt.Sprintf("%d * * * *", minute), nil
	case Daily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case Weekly:
		if c.DayOfWeek < 0 || c.DayOfWeek > 6 {
			return "", fmt.Errorf("%w: day_of_week %d", ErrInvalidDay, c.DayOfWeek)
		}
		return fmt.Sprintf("%d %d * * %d", minute, hour, c.DayOfWeek), nil
	case Monthly:
		if c.DayOfMonth < 1 || c.DayOfMonth > 31 {
			return "", fmt.Errorf("%w: day_of_month %d", ErrInvalidDay, c.DayOfMonth)
		}
		return fmt.Sprintf("%d %d %d * *", minute, hour, c.DayOfMonth), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSchedule, c.Schedule)
	}
}

// Next returns the first firing strictly after t, evaluated in t's location.
func (c Config) Next(t time.Time) (time.Time, error) {
	spec, err := c.CronSpec()
	if err != nil {
		return time.Time{}, err
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}

// Describe renders the configuration for logs and the admin API.
func (c Config) Describe() string {
	if !c.Enabled {
		return "disabled"
	}
	hour, minute, _ := ParseTime(c.Time)
	at := fmt.Sprintf("%02d:%02d", hour, minute)
	switch c.Schedule {
	case Hourly:
		return fmt.Sprintf("hourly at minute %02d", minute)
	case Daily:
		return "daily at " + at
	case Weekly:
		if c.DayOfWeek >= 0 && c.DayOfWeek <= 6 {
			return fmt.Sprintf("weekly on %s at %s", time.Weekday(c.DayOfWeek), at)
		}
	case Monthly:
		return fmt.Sprintf("monthly on day %d at %s", c.DayOfMonth, at)
	}
	return fmt.Sprintf("invalid schedule %q", c.Schedule)
}

func marshal(c Config) ([]byte, error) {
	return json.MarshalIndent(c, "", "    ")
}

func unmarshal(data []byte) (Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), err
	}
	return cfg, nil
}
