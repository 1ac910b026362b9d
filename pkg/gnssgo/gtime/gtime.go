// Package gtime provides time-related functionality for GNSS applications
package gtime

import (
	"time"
)

// Gtime represents a GNSS time
type Gtime struct {
	Time int64   // Time (s) expressed by standard time_t
	Sec  float64 // Fraction of second (s)
}

// Constants for time conversion
const (
	SECONDS_IN_WEEK = 604800.0
	GPS_EPOCH       = 315964800 // GPS time reference epoch (1980/1/6 00:00:00 UTC)
)

// Time2GpsT converts time to GPS time of week
func Time2GpsT(t Gtime, week *int) float64 {
	var (
		sec float64
		w   int
	)

	sec = float64(t.Time-GPS_EPOCH) + t.Sec
	w = int(sec / SECONDS_IN_WEEK)
	sec -= float64(w) * SECONDS_IN_WEEK

	if week != nil {
		*week = w
	}

	return sec
}

// GpsT2Time converts a GPS week number and time-of-week (seconds) to a
// Gtime, the inverse of Time2GpsT.
func GpsT2Time(week int, tow float64) Gtime {
	t := Gtime{Time: GPS_EPOCH}
	return TimeAdd(t, float64(week)*SECONDS_IN_WEEK+tow)
}

// TimeStr converts time to string
func TimeStr(t Gtime, n int) string {
	if t.Time == 0 {
		return "0000/00/00 00:00:00.000000000"
	}

	// Convert to time.Time
	tm := time.Unix(t.Time, int64(t.Sec*1e9))

	// Format based on precision
	switch n {
	case 0:
		return tm.Format("2006/01/02 15:04:05.000000000")
	case 1:
		return tm.Format("2006/01/02 15:04:05")
	case 2:
		return tm.Format("2006/01/02")
	case 3:
		return tm.Format("15:04:05.000000000")
	case 4:
		return tm.Format("15:04:05")
	case 5:
		return tm.Format("15:04")
	default:
		return tm.Format("2006/01/02 15:04:05.000000000")
	}
}

// TimeAdd adds time offset to time
func TimeAdd(t Gtime, sec float64) Gtime {
	var tt Gtime

	tt.Time = t.Time
	tt.Sec = t.Sec + sec

	if tt.Sec >= 1.0 {
		tt.Time += int64(tt.Sec)
		tt.Sec -= float64(int64(tt.Sec))
	} else if tt.Sec < 0.0 {
		tt.Time += int64(tt.Sec) - 1
		tt.Sec = 1.0 + tt.Sec - float64(int64(tt.Sec))
	}

	return tt
}
