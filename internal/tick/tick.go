package tick

import "time"

// Tick is a single observation of the petition counter: a wall-clock
// timestamp in epoch milliseconds and the signature count at that instant.
type Tick struct {
	TS    int64 `json:"ts"`
	Count int64 `json:"count"`
}

// Time converts the epoch-millisecond timestamp to a time.Time.
func (t Tick) Time() time.Time {
	return time.UnixMilli(t.TS)
}

// DailyStat is the compacted summary of one completed local calendar day.
type DailyStat struct {
	Date       string `json:"date"`
	StartCount int64  `json:"startCount"`
	EndCount   int64  `json:"endCount"`
	Collected  int64  `json:"signaturesCollected"`
	DataPoints int    `json:"dataPoints"`
}

// DateFormat is the calendar-day key layout used for DailyStat.Date.
const DateFormat = "2006-01-02"

// DayKey renders t's calendar day in loc as a DailyStat key.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateFormat)
}

// DayStart returns midnight of t's calendar day in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
