package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fleetgate/fleetgate/fix"
)

const tk103Command = "BR00"

/*
TK103Decoder parses the parenthesized fixed width vendor frame:

	(<id>BR00<yymmdd><A|V><lat DDMM.MMMM><N|S><lon DDDMM.MMMM><E|W><speed 5><hhmmss><heading 6>...)

All numeric blocks have fixed widths, so the frame is sliced by offset
rather than split. Speed is km/h.
*/
type TK103Decoder struct{}

func NewTK103Decoder() *TK103Decoder {
	return &TK103Decoder{}
}

func (d *TK103Decoder) Name() string {
	return "tk103"
}

func (d *TK103Decoder) Match(frame []byte) bool {
	return bytes.HasPrefix(frame, []byte("(")) && bytes.Contains(frame, []byte(tk103Command))
}

func (d *TK103Decoder) Decode(frame []byte) (*Decoded, error) {
	text := strings.TrimSpace(string(frame))
	text = strings.TrimPrefix(text, "(")
	text = strings.TrimSuffix(text, ")")

	cmd := strings.Index(text, tk103Command)
	if cmd <= 0 {
		return nil, fmt.Errorf("tk103 frame without %s block", tk103Command)
	}

	id := text[:cmd]
	body := text[cmd+len(tk103Command):]

	// yymmdd(6) validity(1) lat(9) hemi(1) lon(10) hemi(1) speed(5) hhmmss(6)
	const bodyMin = 6 + 1 + 9 + 1 + 10 + 1 + 5 + 6
	if len(body) < bodyMin {
		return nil, fmt.Errorf("tk103 body is %d bytes, need %d", len(body), bodyMin)
	}

	date := body[0:6]
	latitude, err := ParseDegreesMinutes(body[7:16], body[16:17])
	if err != nil {
		return nil, fmt.Errorf("tk103 latitude: %v", err)
	}

	longitude, err := ParseDegreesMinutes(body[17:27], body[27:28])
	if err != nil {
		return nil, fmt.Errorf("tk103 longitude: %v", err)
	}

	speed, err := strconv.ParseFloat(body[28:33], 64)
	if err != nil {
		return nil, fmt.Errorf("tk103 speed field %q. %v", body[28:33], err)
	}

	clock := body[33:39]
	heading := 0.0
	if len(body) >= bodyMin+6 {
		if h, err := strconv.ParseFloat(body[39:45], 64); err == nil {
			heading = h
		}
	}

	timestamp, err := ParseYearDayTime(date, clock)
	if err != nil {
		timestamp = time.Now().UTC()
	}

	f := fix.LocationFix{
		DeviceIdentifier: id,
		Latitude:         latitude,
		Longitude:        longitude,
		Speed:            speed,
		Heading:          heading,
		Timestamp:        timestamp,
		SourceProtocol:   d.Name(),
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return &Decoded{Fixes: []fix.LocationFix{f}}, nil
}
