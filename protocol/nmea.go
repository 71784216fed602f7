package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fleetgate/fleetgate/fix"
)

const nmeaMinFields = 10

/*
NMEADecoder parses RMC sentences ($GPRMC, $GNRMC, ...):

	$GPRMC,<hhmmss>,<A|V>,<lat DDMM.MMMM>,<N|S>,<lon DDDMM.MMMM>,<E|W>,<speed knots>,<course>,<ddmmyy>,...*CS

Speed over ground is in knots and converted to km/h. RMC sentences carry no
device identifier; the listener fills it in from the connection session.
*/
type NMEADecoder struct{}

func NewNMEADecoder() *NMEADecoder {
	return &NMEADecoder{}
}

func (d *NMEADecoder) Name() string {
	return "nmea"
}

func (d *NMEADecoder) Match(frame []byte) bool {
	return bytes.HasPrefix(frame, []byte("$")) && bytes.Contains(frame, []byte("RMC,"))
}

func (d *NMEADecoder) Decode(frame []byte) (*Decoded, error) {
	text := strings.TrimSpace(string(frame))

	// drop the checksum trailer, it is not verified here
	if i := strings.IndexByte(text, '*'); i >= 0 {
		text = text[:i]
	}

	parts := strings.Split(text, ",")
	if len(parts) < nmeaMinFields {
		return nil, fmt.Errorf("rmc sentence has %d fields, need %d", len(parts), nmeaMinFields)
	}

	if parts[2] != "A" {
		return nil, fmt.Errorf("rmc sentence has no valid position (status %q)", parts[2])
	}

	latitude, err := ParseDegreesMinutes(parts[3], parts[4])
	if err != nil {
		return nil, fmt.Errorf("rmc latitude: %v", err)
	}

	longitude, err := ParseDegreesMinutes(parts[5], parts[6])
	if err != nil {
		return nil, fmt.Errorf("rmc longitude: %v", err)
	}

	knots, err := strconv.ParseFloat(parts[7], 64)
	if err != nil {
		return nil, fmt.Errorf("rmc speed field %q. %v", parts[7], err)
	}

	heading := 0.0
	if parts[8] != "" {
		heading, err = strconv.ParseFloat(parts[8], 64)
		if err != nil {
			return nil, fmt.Errorf("rmc course field %q. %v", parts[8], err)
		}
	}

	timestamp, err := ParseDayTime(parts[9], parts[1])
	if err != nil {
		timestamp = time.Now().UTC()
	}

	f := fix.LocationFix{
		Latitude:       latitude,
		Longitude:      longitude,
		Speed:          KnotsToKmh(knots),
		Heading:        heading,
		Timestamp:      timestamp,
		SourceProtocol: d.Name(),
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return &Decoded{Fixes: []fix.LocationFix{f}}, nil
}
