package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fleetgate/fleetgate/fix"
)

/*
JSONDecoder parses JSON object frames. The field names vary between device
firmwares, so every canonical field has an ordered list of candidate keys.
The mapping is data, not control flow, and shared with the polling adapter.
*/
type JSONDecoder struct{}

func NewJSONDecoder() *JSONDecoder {
	return &JSONDecoder{}
}

// Candidate key tables, tried in order. First present key wins.
var (
	LatitudeKeys   = []string{"lat", "latitude"}
	LongitudeKeys  = []string{"lon", "lng", "long", "longitude"}
	IdentifierKeys = []string{"device_id", "deviceId", "imei", "device", "id", "name"}
	SpeedKeys      = []string{"speed", "velocity", "speed_kmh"}
	HeadingKeys    = []string{"heading", "course", "bearing", "angle"}
	AltitudeKeys   = []string{"altitude", "alt"}
	TimestampKeys  = []string{"timestamp", "time", "ts", "fix_time", "gps_time"}
)

func (d *JSONDecoder) Name() string {
	return "json"
}

func (d *JSONDecoder) Match(frame []byte) bool {
	trimmed := bytes.TrimSpace(frame)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func (d *JSONDecoder) Decode(frame []byte) (*Decoded, error) {
	var entry map[string]interface{}
	if err := json.Unmarshal(frame, &entry); err != nil {
		return nil, fmt.Errorf("not a json frame. %v", err)
	}

	f, err := FixFromEntry(entry, d.Name())
	if err != nil {
		return nil, err
	}

	return &Decoded{Fixes: []fix.LocationFix{*f}}, nil
}

/*
FixFromEntry builds a canonical fix from a loosely shaped key/value map.
Used for JSON frames and for the entries returned by the third party
tracking console.
*/
func FixFromEntry(entry map[string]interface{}, source string) (*fix.LocationFix, error) {
	latitude, ok := LookupFloat(entry, LatitudeKeys)
	if !ok {
		return nil, fmt.Errorf("no latitude field under any of %v", LatitudeKeys)
	}

	longitude, ok := LookupFloat(entry, LongitudeKeys)
	if !ok {
		return nil, fmt.Errorf("no longitude field under any of %v", LongitudeKeys)
	}

	f := fix.LocationFix{
		Latitude:       latitude,
		Longitude:      longitude,
		Timestamp:      time.Now().UTC(),
		SourceProtocol: source,
	}

	if identifier, ok := LookupString(entry, IdentifierKeys); ok {
		f.DeviceIdentifier = identifier
	}
	if speed, ok := LookupFloat(entry, SpeedKeys); ok {
		f.Speed = speed
	}
	if heading, ok := LookupFloat(entry, HeadingKeys); ok {
		f.Heading = heading
	}
	if altitude, ok := LookupFloat(entry, AltitudeKeys); ok {
		f.Altitude = altitude
	}
	if ts, ok := LookupTime(entry, TimestampKeys); ok {
		f.Timestamp = ts
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return &f, nil
}

func LookupFloat(entry map[string]interface{}, keys []string) (float64, bool) {
	for _, key := range keys {
		value, ok := entry[key]
		if !ok {
			continue
		}

		switch v := value.(type) {
		case float64:
			return v, true
		case string:
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed, true
			}
		}
	}

	return 0, false
}

func LookupString(entry map[string]interface{}, keys []string) (string, bool) {
	for _, key := range keys {
		value, ok := entry[key]
		if !ok {
			continue
		}

		switch v := value.(type) {
		case string:
			if v != "" {
				return v, true
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		}
	}

	return "", false
}

func LookupTime(entry map[string]interface{}, keys []string) (time.Time, bool) {
	for _, key := range keys {
		value, ok := entry[key]
		if !ok {
			continue
		}

		switch v := value.(type) {
		case string:
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				return ts.UTC(), true
			}
		case float64:
			// unix seconds or milliseconds, decided by magnitude
			if v > 1e12 {
				return time.UnixMilli(int64(v)).UTC(), true
			}
			if v > 0 {
				return time.Unix(int64(v), 0).UTC(), true
			}
		}
	}

	return time.Time{}, false
}
