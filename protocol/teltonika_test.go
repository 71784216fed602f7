package protocol

import (
	"encoding/hex"
	"math"
	"strings"
	"testing"
)

// Captured Codec 8 Extended packet of an FMB920 behind the UDP channel
// envelope, single AVL record.
const teltonikaPacket = "0067cafe016b000f3335303432343036333831373336338e01000001839ecd8a70000b5629e81c5451d0000000000000000000000b000500500000150400c800004502001d00000500422e970018000000cd13f000ce005d00430fd3000100f10000547e0000000001"

func TestTeltonikaDecode(t *testing.T) {
	frame, err := hex.DecodeString(teltonikaPacket)
	if err != nil {
		t.Fatalf("Incorrect request data. %v", err)
	}

	decoder := NewTeltonikaDecoder()

	if !decoder.Match(frame) {
		t.Fatalf("Binary packet was not matched")
	}

	decoded, err := decoder.Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed. %v", err)
	}

	if len(decoded.Fixes) != 1 {
		t.Fatalf("Expected 1 fix, got %d", len(decoded.Fixes))
	}

	f := decoded.Fixes[0]

	if f.DeviceIdentifier != "350424063817363" {
		t.Errorf("Wrong IMEI! Actual: %s", f.DeviceIdentifier)
	}
	if math.Abs(f.Latitude-47.5419088) > 1e-6 {
		t.Errorf("Wrong latitude! Expected: 47.5419088 Actual: %f", f.Latitude)
	}
	if math.Abs(f.Longitude-19.0000616) > 1e-6 {
		t.Errorf("Wrong longitude! Expected: 19.0000616 Actual: %f", f.Longitude)
	}
	if f.Speed != 0 {
		t.Errorf("Wrong speed! Actual: %f", f.Speed)
	}
	if f.SourceProtocol != "teltonika" {
		t.Errorf("Wrong protocol tag! Actual: %s", f.SourceProtocol)
	}

	// The record count acknowledgment the device expects back.
	expectedAck := "0005cafe016b01"
	if hex.EncodeToString(decoded.Ack) != expectedAck {
		t.Errorf("Wrong acknowledgment! Expected: %s Actual: %s", expectedAck, hex.EncodeToString(decoded.Ack))
	}
}

func TestTeltonikaAckSurvivesUnusableRecords(t *testing.T) {
	// Same packet with the latitude field bumped to 1,000,000,000 (100
	// degrees): the record parses but fails validation, so the packet
	// yields no fix. The record count acknowledgment must still go out or
	// the device resends the packet forever.
	broken := strings.Replace(teltonikaPacket, "1c5451d0", "3b9aca00", 1)

	frame, err := hex.DecodeString(broken)
	if err != nil {
		t.Fatalf("Incorrect request data. %v", err)
	}

	dispatcher := mustDispatcher(t)

	decoded, ok := dispatcher.Decode(frame)
	if !ok {
		t.Fatalf("Packet with only invalid records was treated as undecoded")
	}

	if len(decoded.Fixes) != 0 {
		t.Errorf("Expected no usable fixes, got %d", len(decoded.Fixes))
	}

	expectedAck := "0005cafe016b01"
	if hex.EncodeToString(decoded.Ack) != expectedAck {
		t.Errorf("Wrong acknowledgment! Expected: %s Actual: %s", expectedAck, hex.EncodeToString(decoded.Ack))
	}
}

func TestTeltonikaMatchRejectsText(t *testing.T) {
	decoder := NewTeltonikaDecoder()

	if decoder.Match([]byte("GT06,8988,A,1126.7120,N,07743.8420,E,042.00,180,010924*")) {
		t.Errorf("Text frame must not match the binary decoder")
	}
	if decoder.Match([]byte{0x00, 0x01}) {
		t.Errorf("Too short frame must not match")
	}
}
