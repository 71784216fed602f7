package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fleetgate/fleetgate/fix"
)

const (
	gt06Marker    = "GT06,"
	gt06MinFields = 10
)

/*
GT06Decoder parses the comma delimited text frames of the GT06 style
vendor hardware:

	GT06,<id>,<A|V>,<lat DDMM.MMMM>,<N|S>,<lon DDDMM.MMMM>,<E|W>,<speed>,<heading>,<date ddmmyy>*

Speed is already km/h. The date field carries no time of day, so fixes are
stamped with the receipt time.
*/
type GT06Decoder struct{}

func NewGT06Decoder() *GT06Decoder {
	return &GT06Decoder{}
}

func (d *GT06Decoder) Name() string {
	return "gt06"
}

func (d *GT06Decoder) Match(frame []byte) bool {
	return bytes.HasPrefix(frame, []byte(gt06Marker))
}

func (d *GT06Decoder) Decode(frame []byte) (*Decoded, error) {
	text := strings.TrimSpace(string(frame))
	text = strings.TrimSuffix(text, "*")

	parts := strings.Split(text, ",")
	if len(parts) < gt06MinFields {
		return nil, fmt.Errorf("gt06 frame has %d fields, need %d", len(parts), gt06MinFields)
	}

	latitude, err := ParseDegreesMinutes(parts[3], parts[4])
	if err != nil {
		return nil, fmt.Errorf("gt06 latitude: %v", err)
	}

	longitude, err := ParseDegreesMinutes(parts[5], parts[6])
	if err != nil {
		return nil, fmt.Errorf("gt06 longitude: %v", err)
	}

	speed, err := strconv.ParseFloat(parts[7], 64)
	if err != nil {
		return nil, fmt.Errorf("gt06 speed field %q. %v", parts[7], err)
	}

	heading, err := strconv.ParseFloat(parts[8], 64)
	if err != nil {
		return nil, fmt.Errorf("gt06 heading field %q. %v", parts[8], err)
	}

	f := fix.LocationFix{
		DeviceIdentifier: parts[1],
		Latitude:         latitude,
		Longitude:        longitude,
		Speed:            speed,
		Heading:          heading,
		Timestamp:        time.Now().UTC(),
		SourceProtocol:   d.Name(),
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return &Decoded{Fixes: []fix.LocationFix{f}}, nil
}
