package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
)

// QuietHours is a daily window in which only high and critical messages
// reach the human. Start may be later than End, in which case the window
// crosses midnight.
type QuietHours struct {
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// BusySignal queues everything but critical while active.
type BusySignal struct {
	Active bool       `json:"active"`
	Reason string     `json:"reason,omitempty"`
	Until  *time.Time `json:"until,omitempty"`
}

// FocusMode queues low priority messages while active.
type FocusMode struct {
	Active bool       `json:"active"`
	Until  *time.Time `json:"until,omitempty"`
}

// TimingRules are the human's delivery rules. Nil members are disabled.
type TimingRules struct {
	QuietHours *QuietHours `json:"quiet_hours,omitempty"`
	Busy       *BusySignal `json:"busy,omitempty"`
	Focus      *FocusMode  `json:"focus,omitempty"`
}

// parseClock parses "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: clock %q must be HH:MM", ErrInvalidRecord, s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("%w: clock %q has invalid hour", ErrInvalidRecord, s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("%w: clock %q has invalid minute", ErrInvalidRecord, s)
	}
	return hh*60 + mm, nil
}

// Validate checks the clock strings and timezone.
func (q *QuietHours) Validate() error {
	if _, err := parseClock(q.Start); err != nil {
		return err
	}
	if _, err := parseClock(q.End); err != nil {
		return err
	}
	if q.Timezone != "" {
		if _, err := time.LoadLocation(q.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q: %v", ErrInvalidRecord, q.Timezone, err)
		}
	}
	return nil
}

func (q *QuietHours) location() *time.Location {
	if q.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// active reports whether now falls inside the window, and when it ends.
func (q *QuietHours) active(now time.Time) (bool, time.Time) {
	start, err := parseClock(q.Start)
	if err != nil {
		return false, time.Time{}
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false, time.Time{}
	}
	local := now.In(q.location())
	cur := local.Hour()*60 + local.Minute()

	var in bool
	if start > end {
		in = cur >= start || cur < end
	} else {
		in = start <= cur && cur < end
	}
	if !in {
		return false, time.Time{}
	}
	until := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, local.Location())
	if !until.After(local) {
		until = until.AddDate(0, 0, 1)
	}
	return true, until.UTC()
}

// EvaluateTiming applies the delivery rules in order: critical always
// delivers; burnout at or above crew.BurnoutHigh queues low and normal until
// 08:00 UTC the next day; quiet hours queue everything below high; an active
// busy signal queues; active focus mode queues low.
func EvaluateTiming(now time.Time, burnout int, p crew.Priority, rules TimingRules) crew.TimingVerdict {
	now = now.UTC()
	if p == crew.PriorityCritical {
		return crew.TimingVerdict{Deliver: true, Reason: "Critical priority overrides all timing rules"}
	}

	if burnout >= crew.BurnoutHigh && (p == crew.PriorityLow || p == crew.PriorityNormal) {
		next := now.AddDate(0, 0, 1)
		morning := time.Date(next.Year(), next.Month(), next.Day(), 8, 0, 0, 0, time.UTC)
		return crew.TimingVerdict{
			Reason:     fmt.Sprintf("Burnout score is %d/10. Queuing non-urgent message for morning.", burnout),
			DelayUntil: &morning,
		}
	}

	if q := rules.QuietHours; q != nil && p != crew.PriorityHigh {
		if in, until := q.active(now); in {
			return crew.TimingVerdict{
				Reason:     fmt.Sprintf("Quiet hours (%s-%s). Queuing for %s.", q.Start, q.End, q.End),
				DelayUntil: &until,
			}
		}
	}

	if b := rules.Busy; b != nil && b.Active {
		reason := b.Reason
		if reason == "" {
			reason = "busy"
		}
		return crew.TimingVerdict{
			Reason:     fmt.Sprintf("Human is busy: %s. Queuing.", reason),
			DelayUntil: b.Until,
		}
	}

	if f := rules.Focus; f != nil && f.Active && p == crew.PriorityLow {
		return crew.TimingVerdict{
			Reason:     "Focus mode active. Low-priority items queued.",
			DelayUntil: f.Until,
		}
	}

	return crew.TimingVerdict{Deliver: true, Reason: "All timing checks passed"}
}
