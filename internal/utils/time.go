package utils

import (
	"time"

	_ "time/tzdata"
)

// The assistant runs every user on one wall clock, Moscow by default.
var appLoc = defaultLocation()

func defaultLocation() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		// MSK has had no DST since 2014, a fixed offset is equivalent.
		loc = time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// SetLocation switches the assistant clock to the named IANA zone. Call it
// during startup, before the scheduler runs.
func SetLocation(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return err
	}
	appLoc = loc
	return nil
}

// Location returns the assistant's wall-clock time zone.
// Importing time/tzdata keeps behavior consistent even on minimal systems.
func Location() *time.Location {
	return appLoc
}

func NowLocal() time.Time {
	return time.Now().In(appLoc)
}

// TimeHHMM formats time-of-day in HH:MM (24h) on the assistant clock.
func TimeHHMM(t time.Time) string {
	return t.In(appLoc).Format("15:04")
}
