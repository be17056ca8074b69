package replies

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Daily window of whole hours, [Start, End). Wraps past midnight when Start > End. The zero value (Start == End) means always open.
type WorkingHours struct {
	Start int
	End   int
}

// Parses "9-23" style ranges. The empty string means always open.
func ParseWorkingHours(s string) (WorkingHours, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return WorkingHours{}, nil
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return WorkingHours{}, fmt.Errorf("working hours must look like START-END: %q", s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return WorkingHours{}, fmt.Errorf("invalid working hours start: %w", err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return WorkingHours{}, fmt.Errorf("invalid working hours end: %w", err)
	}
	if start < 0 || start > 24 || end < 0 || end > 24 {
		return WorkingHours{}, fmt.Errorf("working hours out of range: %q", s)
	}
	return WorkingHours{Start: start % 24, End: end % 24}, nil
}

func (w WorkingHours) IsAlways() bool {
	return w.Start == w.End
}

func (w WorkingHours) Contains(t time.Time) bool {
	if w.IsAlways() {
		return true
	}
	h := t.Hour()
	if w.Start < w.End {
		return h >= w.Start && h < w.End
	}
	return h >= w.Start || h < w.End
}

func (w WorkingHours) String() string {
	if w.IsAlways() {
		return "always"
	}
	return fmt.Sprintf("%d-%d", w.Start, w.End)
}
