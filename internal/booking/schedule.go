package booking

import "time"

// Business hours: half-hour slots from 10:00 up to (not including) 21:00,
// so the last bookable slot of a day starts at 20:30.
const (
	openingTime     = TimeOfDay(10 * 60)
	closingTime     = TimeOfDay(21 * 60)
	slotStepMinutes = 30
	windowDays      = 7
)

// DaySlots is one calendar day's free slots, ascending.
type DaySlots struct {
	Date  time.Time
	Times []TimeOfDay
}

// slotKey identifies one (date, time) cell within a single doctor's grid.
func slotKey(date time.Time, t TimeOfDay) string {
	return date.Format(DateLayout) + "_" + t.String()
}

// GenerateWeek computes the free slot grid for the next windowDays calendar
// days starting at now. Cells present in booked are skipped. Day 0 starts at
// the first half-hour boundary strictly after now, clamped to opening time,
// so the grid never contains a slot in the past.
func GenerateWeek(now time.Time, booked map[string]bool) []DaySlots {
	days := make([]DaySlots, 0, windowDays)

	for i := 0; i < windowDays; i++ {
		date := DateOf(now).AddDate(0, 0, i)

		start := openingTime
		if i == 0 {
			if b := nextSlotBoundary(now); b > start {
				start = b
			}
		}

		times := make([]TimeOfDay, 0, slotsPerDay())
		for t := start; t < closingTime; t += slotStepMinutes {
			if booked[slotKey(date, t)] {
				continue
			}
			times = append(times, t)
		}

		days = append(days, DaySlots{Date: date, Times: times})
	}

	return days
}

// nextSlotBoundary returns the first half-hour boundary strictly after now.
// 10:00:00 -> 10:30, 10:05 -> 10:30, 10:35 -> 11:00.
func nextSlotBoundary(now time.Time) TimeOfDay {
	m := now.Hour()*60 + now.Minute()
	return TimeOfDay(m - m%slotStepMinutes + slotStepMinutes)
}

func slotsPerDay() int {
	return int(closingTime-openingTime) / slotStepMinutes
}
