package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const knotsToKmh = 1.852

/*
ParseDegreesMinutes converts a DDMM.MMMM (or DDDMM.MMMM for longitudes)
coordinate with a hemisphere letter into decimal degrees. Southern and
western hemispheres are negative.
*/
func ParseDegreesMinutes(value, hemisphere string) (float64, error) {
	dot := strings.IndexByte(value, '.')
	if dot < 0 {
		dot = len(value)
	}

	degLen := dot - 2
	if degLen < 1 {
		return 0, fmt.Errorf("coordinate field %q too short", value)
	}

	degrees, err := strconv.ParseFloat(value[:degLen], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid degrees part in %q. %v", value, err)
	}

	minutes, err := strconv.ParseFloat(value[degLen:], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid minutes part in %q. %v", value, err)
	}

	if minutes >= 60 {
		return 0, fmt.Errorf("minutes part of %q out of range", value)
	}

	decimal := degrees + minutes/60.0

	switch strings.ToUpper(hemisphere) {
	case "N", "E":
	case "S", "W":
		decimal = -decimal
	default:
		return 0, fmt.Errorf("unknown hemisphere %q", hemisphere)
	}

	return decimal, nil
}

func KnotsToKmh(knots float64) float64 {
	return knots * knotsToKmh
}

// ParseDayTime combines ddmmyy and hhmmss fields into a UTC timestamp.
// Fractional seconds after the hhmmss block are ignored.
func ParseDayTime(ddmmyy, hhmmss string) (time.Time, error) {
	if len(ddmmyy) != 6 {
		return time.Time{}, fmt.Errorf("invalid date field %q", ddmmyy)
	}

	if i := strings.IndexByte(hhmmss, '.'); i >= 0 {
		hhmmss = hhmmss[:i]
	}
	if len(hhmmss) != 6 {
		return time.Time{}, fmt.Errorf("invalid time field %q", hhmmss)
	}

	t, err := time.Parse("020106 150405", ddmmyy+" "+hhmmss)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date/time fields. %v", err)
	}

	return t.UTC(), nil
}

// ParseYearDayTime is ParseDayTime for the yymmdd date order used by the
// parenthesized vendor frames.
func ParseYearDayTime(yymmdd, hhmmss string) (time.Time, error) {
	if len(yymmdd) != 6 {
		return time.Time{}, fmt.Errorf("invalid date field %q", yymmdd)
	}

	t, err := time.Parse("060102 150405", yymmdd+" "+hhmmss)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date/time fields. %v", err)
	}

	return t.UTC(), nil
}
