package protocol

import (
	"time"

	"github.com/filipkroca/teltonikaparser"
	"github.com/fleetgate/fleetgate/fix"
)

/*
TeltonikaDecoder handles Codec 8 / 8 Extended AVL packets from the Teltonika
hardware batch. One packet may carry several AVL records; each becomes a
fix. The parser prepares the record count acknowledgment the device expects,
which is passed through as the protocol specific ack.
*/
type TeltonikaDecoder struct{}

func NewTeltonikaDecoder() *TeltonikaDecoder {
	return &TeltonikaDecoder{}
}

func (d *TeltonikaDecoder) Name() string {
	return "teltonika"
}

// Match only filters out frames which are clearly textual; the real
// structural check happens in the parser.
func (d *TeltonikaDecoder) Match(frame []byte) bool {
	if len(frame) < 10 {
		return false
	}

	return !looksTextual(frame)
}

func (d *TeltonikaDecoder) Decode(frame []byte) (*Decoded, error) {
	decoded, err := teltonikaparser.Decode(&frame)
	if err != nil {
		return nil, err
	}

	fixes := make([]fix.LocationFix, 0, len(decoded.Data))
	for _, avl := range decoded.Data {
		f := fix.LocationFix{
			DeviceIdentifier: decoded.IMEI,
			Latitude:         float64(avl.Lat) / 10000000.0,
			Longitude:        float64(avl.Lng) / 10000000.0,
			Speed:            float64(avl.Speed),
			Heading:          float64(avl.Angle),
			Altitude:         float64(avl.Altitude),
			Timestamp:        time.UnixMilli(int64(avl.UtimeMs)).UTC(),
			SourceProtocol:   d.Name(),
		}

		if err := f.Validate(); err != nil {
			continue
		}

		fixes = append(fixes, f)
	}

	return &Decoded{Fixes: fixes, Ack: decoded.Response}, nil
}

func looksTextual(frame []byte) bool {
	limit := len(frame)
	if limit > 32 {
		limit = 32
	}

	for _, b := range frame[:limit] {
		if b == '\r' || b == '\n' || b == '\t' {
			continue
		}
		if b < 0x20 || b > 0x7e {
			return false
		}
	}

	return true
}
