package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// InTradingHours reports whether now falls inside the window. An unset window
// always passes. Windows with Start after End wrap past midnight; Start equal
// to End means the whole day.
func InTradingHours(h types.TradingHours, now time.Time) (bool, error) {
	if h.IsZero() {
		return true, nil
	}

	loc, err := location(h.Timezone)
	if err != nil {
		return false, err
	}
	start, err := minuteOfDay(h.Start)
	if err != nil {
		return false, fmt.Errorf("invalid trading hours start: %w", err)
	}
	end, err := minuteOfDay(h.End)
	if err != nil {
		return false, fmt.Errorf("invalid trading hours end: %w", err)
	}

	local := now.In(loc)
	if !dayAllowed(h.Days, local.Weekday()) {
		return false, nil
	}

	m := local.Hour()*60 + local.Minute()
	switch {
	case start == end:
		return true, nil
	case start < end:
		return m >= start && m < end, nil
	default:
		return m >= start || m < end, nil
	}
}

// IsBlockedDate reports whether now's date in tz is listed in dates (2006-01-02)
func IsBlockedDate(dates []string, tz string, now time.Time) (bool, error) {
	if len(dates) == 0 {
		return false, nil
	}
	loc, err := location(tz)
	if err != nil {
		return false, err
	}
	today := now.In(loc).Format("2006-01-02")
	for _, d := range dates {
		if strings.TrimSpace(d) == today {
			return true, nil
		}
	}
	return false, nil
}

func location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	return loc, nil
}

func minuteOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func dayAllowed(days []string, wd time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	name := strings.ToLower(wd.String())
	for _, d := range days {
		d = strings.ToLower(strings.TrimSpace(d))
		if len(d) >= 3 && strings.HasPrefix(name, d) {
			return true
		}
	}
	return false
}
