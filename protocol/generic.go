package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fleetgate/fleetgate/fix"
)

/*
GenericDecoder is the last resort for otherwise unknown comma separated
frames: it takes the first adjacent pair of floats which form a valid
latitude/longitude. A leading non numeric token is treated as the device
identifier.

Known limitation: a frame with two adjacent in-range numeric fields which
are not coordinates decodes to a bogus fix. Kept on purpose, this decoder
only runs after every structured format has refused the frame.
*/
type GenericDecoder struct{}

func NewGenericDecoder() *GenericDecoder {
	return &GenericDecoder{}
}

func (d *GenericDecoder) Name() string {
	return "generic"
}

func (d *GenericDecoder) Match(frame []byte) bool {
	return true
}

func (d *GenericDecoder) Decode(frame []byte) (*Decoded, error) {
	text := strings.TrimSpace(string(frame))
	parts := strings.Split(text, ",")
	if len(parts) < 2 {
		return nil, fmt.Errorf("generic frame needs at least two fields")
	}

	identifier := ""
	if _, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err != nil {
		identifier = strings.TrimSpace(parts[0])
	}

	for i := 0; i < len(parts)-1; i++ {
		latitude, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			continue
		}

		longitude, err := strconv.ParseFloat(strings.TrimSpace(parts[i+1]), 64)
		if err != nil {
			continue
		}

		if latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 {
			continue
		}

		f := fix.LocationFix{
			DeviceIdentifier: identifier,
			Latitude:         latitude,
			Longitude:        longitude,
			Timestamp:        time.Now().UTC(),
			SourceProtocol:   d.Name(),
		}

		return &Decoded{Fixes: []fix.LocationFix{f}}, nil
	}

	return nil, fmt.Errorf("no adjacent latitude/longitude pair found")
}
