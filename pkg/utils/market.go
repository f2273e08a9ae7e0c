package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to fixed offset if timezone data is not available
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// LoadLocation loads a named zone, falling back to IST when zoneinfo is
// missing or the name is empty.
func LoadLocation(name string) *time.Location {
	if name == "" || name == "Asia/Kolkata" {
		return IndiaLocation
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return IndiaLocation
	}
	return loc
}

// DateKey returns the YYYY-MM-DD calendar date of t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// SameDay reports whether a and b fall on the same calendar date in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
