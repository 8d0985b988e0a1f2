package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AccessWindow decides whether access is allowed at a given instant.
type AccessWindow interface {
	IsWithinAllowedWindow(now time.Time) bool
}

// AlwaysOpen allows access at any time.
type AlwaysOpen struct{}

// IsWithinAllowedWindow always returns true
func (AlwaysOpen) IsWithinAllowedWindow(time.Time) bool {
	return true
}

// Slot is a daily time range in minutes since midnight. Both ends are
// inclusive to the minute, so 12:00-13:00 admits 13:00 but not 13:01.
type Slot struct {
	Start int
	End   int
}

func (s Slot) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", s.Start/60, s.Start%60, s.End/60, s.End%60)
}

func (s Slot) contains(minute int) bool {
	if s.Start <= s.End {
		return minute >= s.Start && minute <= s.End
	}
	// Wraps past midnight, e.g. 22:00-02:00.
	return minute >= s.Start || minute <= s.End
}

// DailyWindow allows access during any of its slots, evaluated in Location.
type DailyWindow struct {
	Slots    []Slot
	Location *time.Location
}

// IsWithinAllowedWindow reports whether now falls inside a slot
func (w DailyWindow) IsWithinAllowedWindow(now time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	for _, slot := range w.Slots {
		if slot.contains(minute) {
			return true
		}
	}
	return false
}

// ParseSlots parses a comma separated list such as "12:00-13:00,20:00-21:00".
func ParseSlots(value string) ([]Slot, error) {
	var slots []Slot
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, ok := strings.Cut(part, "-")
		if !ok {
			return nil, fmt.Errorf("access window %q: expected HH:MM-HH:MM", part)
		}
		start, err := parseClock(from)
		if err != nil {
			return nil, fmt.Errorf("access window %q: %w", part, err)
		}
		end, err := parseClock(to)
		if err != nil {
			return nil, fmt.Errorf("access window %q: %w", part, err)
		}
		slots = append(slots, Slot{Start: start, End: end})
	}
	return slots, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
