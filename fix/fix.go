package fix

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidCoordinate = errors.New("coordinate out of valid range")

/*
LocationFix is the canonical, protocol independent form of a single GPS
report. Decoders produce it, the ingest pipeline consumes it. Once built it
is passed around by value and never modified.
*/
type LocationFix struct {
	// DeviceIdentifier is the raw protocol level token (device code or
	// IMEI) before resolution. May be empty for formats which do not
	// carry an identifier in every sentence.
	DeviceIdentifier string

	Latitude  float64
	Longitude float64
	Speed     float64 // km/h
	Heading   float64 // degrees, 0 if unknown
	Altitude  float64 // meters, optional

	// Timestamp is the device reported time when available, otherwise
	// the receipt time.
	Timestamp time.Time

	// SourceProtocol names the decoder which produced this fix.
	SourceProtocol string
}

func (f LocationFix) Validate() error {
	if f.Latitude < -90 || f.Latitude > 90 {
		return fmt.Errorf("latitude %f: %w", f.Latitude, ErrInvalidCoordinate)
	}

	if f.Longitude < -180 || f.Longitude > 180 {
		return fmt.Errorf("longitude %f: %w", f.Longitude, ErrInvalidCoordinate)
	}

	if f.Speed < 0 {
		return fmt.Errorf("negative speed %f", f.Speed)
	}

	if f.Heading < 0 || f.Heading >= 360 {
		return fmt.Errorf("heading %f out of range", f.Heading)
	}

	return nil
}

func (f LocationFix) WithIdentifier(identifier string) LocationFix {
	f.DeviceIdentifier = identifier
	return f
}
