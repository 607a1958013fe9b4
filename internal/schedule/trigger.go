package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"kettleplane/internal/errs"
)

// TriggerKind distinguishes wall-clock from interval triggers.
type TriggerKind string

const (
	Daily    TriggerKind = "daily"
	Interval TriggerKind = "interval"
)

// Trigger says when an entry fires.
type Trigger struct {
	Kind   TriggerKind `json:"kind" yaml:"kind"`
	Hour   int         `json:"hour,omitempty" yaml:"hour,omitempty"`
	Minute int         `json:"minute,omitempty" yaml:"minute,omitempty"`
	// Every is the interval length in minutes.
	Every int `json:"every_minutes,omitempty" yaml:"every_minutes,omitempty"`
}

var (
	dailyRe    = regexp.MustCompile(`^daily\s+(\d{1,2}):(\d{2})$`)
	intervalRe = regexp.MustCompile(`^every\s+(\d+)\s*(m|min|mins|minute|minutes)$`)
)

// ParseTrigger accepts "daily HH:MM" and "every N minutes", case-insensitively.
func ParseTrigger(s string) (Trigger, error) {
	norm := strings.ToLower(strings.Join(strings.Fields(s), " "))

	if m := dailyRe.FindStringSubmatch(norm); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		return DailyAt(h, mm)
	}
	if m := intervalRe.FindStringSubmatch(norm); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Trigger{}, errs.E("parse trigger", errs.ErrValidationFailed, "interval too large", err)
		}
		return EveryMinutes(n)
	}
	return Trigger{}, errs.E("parse trigger", errs.ErrValidationFailed,
		fmt.Sprintf("unrecognised trigger %q (want \"daily HH:MM\" or \"every N minutes\")", s), nil)
}

// DailyAt builds a daily trigger.
func DailyAt(hour, minute int) (Trigger, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Trigger{}, errs.E("parse trigger", errs.ErrValidationFailed,
			fmt.Sprintf("invalid time %02d:%02d", hour, minute), nil)
	}
	return Trigger{Kind: Daily, Hour: hour, Minute: minute}, nil
}

// EveryMinutes builds an interval trigger. n must be at least 1.
func EveryMinutes(n int) (Trigger, error) {
	if n < 1 {
		return Trigger{}, errs.E("parse trigger", errs.ErrValidationFailed, "interval must be at least 1 minute", nil)
	}
	return Trigger{Kind: Interval, Every: n}, nil
}

func (t Trigger) String() string {
	switch t.Kind {
	case Daily:
		return fmt.Sprintf("daily %02d:%02d", t.Hour, t.Minute)
	case Interval:
		return fmt.Sprintf("every %d minutes", t.Every)
	}
	return "invalid"
}

// Advance returns the first firing strictly after now that follows a firing
// due at due. Interval triggers stay on the due + k*Every grid so a late scan
// does not shift later runs; daily triggers behave like Next.
func (t Trigger) Advance(due, now time.Time, loc *time.Location) time.Time {
	if t.Kind != Interval || t.Every < 1 {
		return t.Next(now, loc)
	}
	if due.After(now) {
		return due
	}
	step := time.Duration(t.Every) * time.Minute
	k := now.Sub(due)/step + 1
	return due.Add(k * step)
}

// Next returns the first firing strictly after now. Daily times are
// evaluated in loc.
func (t Trigger) Next(now time.Time, loc *time.Location) time.Time {
	switch t.Kind {
	case Interval:
		return now.Add(time.Duration(t.Every) * time.Minute)
	case Daily:
		if loc == nil {
			loc = time.Local
		}
		local := now.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(), t.Hour, t.Minute, 0, 0, loc)
		if !next.After(local) {
			next = time.Date(local.Year(), local.Month(), local.Day()+1, t.Hour, t.Minute, 0, 0, loc)
		}
		return next
	}
	return time.Time{}
}
