package ticker

import (
	"fmt"
	"slices"
	"time"
)

// DailyHours fires once for each configured hour of the day in a fixed location.
type DailyHours struct {
	loc   *time.Location
	slots []time.Time
}

// NewDailyHours schedules the next occurrence of each hour. An hour equal to the current hour
// is scheduled for today, so it is due on the first poll.
func NewDailyHours(hours []int, loc *time.Location, now time.Time) (*DailyHours, error) {
	if len(hours) == 0 {
		return nil, fmt.Errorf("no posting hours configured")
	}
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	d := &DailyHours{loc: loc}
	for _, h := range hours {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid hour of day: %d", h)
		}
		slot := time.Date(now.Year(), now.Month(), now.Day(), h, 0, 0, 0, loc)
		if h < now.Hour() {
			slot = slot.AddDate(0, 0, 1)
		}
		d.slots = append(d.slots, slot)
	}
	d.sort()
	return d, nil
}

func (d *DailyHours) sort() {
	slices.SortFunc(d.slots, func(a, b time.Time) int { return a.Compare(b) })
}

// Due reports whether a slot has passed. All passed slots are moved forward by whole days, so a
// long pause yields a single firing rather than a burst.
func (d *DailyHours) Due(now time.Time) bool {
	fired := false
	for i := range d.slots {
		for d.slots[i].Before(now) {
			d.slots[i] = d.slots[i].AddDate(0, 0, 1)
			fired = true
		}
	}
	if fired {
		d.sort()
	}
	return fired
}

// Next is the earliest pending slot.
func (d *DailyHours) Next() time.Time {
	return d.slots[0]
}
