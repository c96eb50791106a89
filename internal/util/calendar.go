package util

import (
	"time"
)

// TradingCalendar provides market-hours awareness for US equities: regular
// session 9:30-16:00 America/New_York, Monday to Friday. Exchange holidays
// are not modelled; the broker rejects orders on those days anyway.
type TradingCalendar struct {
	loc *time.Location
}

// NewTradingCalendar creates a TradingCalendar for the US equity session.
// It falls back to a fixed UTC-5 zone when tzdata is unavailable.
func NewTradingCalendar() *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return &TradingCalendar{loc: loc}
}

// Location returns the exchange time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// IsMarketOpen returns whether the regular session is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	lt := t.In(tc.loc)
	if !isWeekday(lt) {
		return false
	}
	open := tc.at(lt, 9, 30)
	closeT := tc.at(lt, 16, 0)
	return !lt.Before(open) && lt.Before(closeT)
}

// NextOpen returns the next session open at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	lt := t.In(tc.loc)
	for {
		open := tc.at(lt, 9, 30)
		if isWeekday(lt) && !open.Before(t) {
			return open
		}
		lt = tc.at(lt, 0, 0).AddDate(0, 0, 1)
	}
}

// NextClose returns the next session close at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	lt := t.In(tc.loc)
	for {
		closeT := tc.at(lt, 16, 0)
		if isWeekday(lt) && !closeT.Before(t) {
			return closeT
		}
		lt = tc.at(lt, 0, 0).AddDate(0, 0, 1)
	}
}

func (tc *TradingCalendar) at(day time.Time, hour, min int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, tc.loc)
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
