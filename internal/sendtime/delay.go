package sendtime

import (
	"strings"

	"launchsched/internal/domain"
)

// DelayTime is an optional HHMM wall-clock time. The zero value is absent.
type DelayTime struct {
	hour    int
	minute  int
	present bool
}

var Absent = DelayTime{}

func At(hour, minute int) DelayTime {
	return DelayTime{hour: hour, minute: minute, present: true}
}

func (d DelayTime) Present() bool { return d.present }

func (d DelayTime) Clock() (hour, minute int) { return d.hour, d.minute }

// ParseDelayTime accepts exactly four digits (HHMM). Empty input and the
// literal "null" written by older clients mean absent.
func ParseDelayTime(raw string) (DelayTime, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "null") {
		return Absent, nil
	}
	if len(s) != 4 {
		return Absent, domain.ValidationError("delay time %q: want 4 digits HHMM", raw)
	}
	var n [4]int
	for i := 0; i < 4; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return Absent, domain.ValidationError("delay time %q: non-numeric", raw)
		}
		n[i] = int(c - '0')
	}
	hour, minute := n[0]*10+n[1], n[2]*10+n[3]
	if hour > 23 || minute > 59 {
		return Absent, domain.ValidationError("delay time %q: out of range", raw)
	}
	return At(hour, minute), nil
}

func ParseDelayDays(v *int) (int, error) {
	if v == nil {
		return 0, nil
	}
	if *v < 0 {
		return 0, domain.ValidationError("delay days must be >= 0, got %d", *v)
	}
	return *v, nil
}
