package relay

import "time"

// Day bits of Schedule.DaysMask. Bit 0 is unused.
const (
	Sunday    uint8 = 1 << (iota + 1)
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday

	Weekdays = Monday | Tuesday | Wednesday | Thursday | Friday
	EveryDay = Weekdays | Saturday | Sunday
)

func dayBit(d time.Weekday) uint8 { return 1 << (uint(d) + 1) }

// ActiveAt reports whether the relay should be on at t. A window whose
// OnTime is after its OffTime runs past midnight and belongs to the day it
// started on. OnTime equal to OffTime is never active.
func (s Schedule) ActiveAt(t time.Time) bool {
	if !s.Enabled {
		return false
	}
	on, off := s.OnTime.Minutes(), s.OffTime.Minutes()
	now := t.Hour()*60 + t.Minute()
	switch {
	case on < off:
		return s.DaysMask&dayBit(t.Weekday()) != 0 && now >= on && now < off
	case on > off:
		if now >= on {
			return s.DaysMask&dayBit(t.Weekday()) != 0
		}
		if now < off {
			return s.DaysMask&dayBit(t.AddDate(0, 0, -1).Weekday()) != 0
		}
		return false
	default:
		return false
	}
}
