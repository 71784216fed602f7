package listener

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetgate/fleetgate/config"
	"github.com/fleetgate/fleetgate/ingest"
	"github.com/fleetgate/fleetgate/protocol"
	"github.com/fleetgate/fleetgate/store"
)

const (
	testTcpPort = 19023
	testUdpPort = 19027
)

func testContext() context.Context {
	log := logrus.New()
	log.SetLevel(logrus.TraceLevel)
	cfg := config.NewConfig(log, nil, nil, nil, nil, nil, nil, nil)
	return context.WithValue(context.Background(), config.ContextConfigKey, cfg)
}

func startGateway(t *testing.T, ctx context.Context) (*Manager, *store.MemoryStore, uint, uint) {
	t.Helper()

	memory := store.NewMemoryStore()
	deviceID := memory.AddDevice(store.GPSDevice{DeviceID: "GPS001", IMEI: "356938035643809", SimNumber: "+36201234567"})
	vehicleID := memory.AddVehicle(store.Vehicle{Registration: "ABC-123", GPSDeviceID: &deviceID, LiveTrackingEnabled: true})

	dispatcher, err := protocol.NewDispatcher(nil)
	if err != nil {
		t.Fatalf("Failed to build dispatcher. %v", err)
	}

	registry := ingest.NewRegistry(memory)
	applier := ingest.NewApplier(ctx, memory, nil)
	pipeline := ingest.NewPipeline(ctx, registry, applier, nil)

	wg := &sync.WaitGroup{}
	manager := NewManager(ctx, wg, "127.0.0.1", dispatcher, pipeline, nil, 16, 2)

	if err := manager.StartTCP(testTcpPort); err != nil {
		t.Fatalf("Failed to start TCP listener. %v", err)
	}
	if err := manager.StartUDP(testUdpPort); err != nil {
		t.Fatalf("Failed to start UDP listener. %v", err)
	}

	t.Cleanup(func() {
		if err := manager.Stop(); err != nil {
			t.Errorf("Failed to stop listener manager. %v", err)
		}
	})

	return manager, memory, deviceID, vehicleID
}

func dialGateway(t *testing.T) (net.Conn, *bufio.Reader) {
	t.Helper()

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", testTcpPort), 5*time.Second)
	if err != nil {
		t.Fatalf("Dial failed. %v", err)
	}

	t.Cleanup(func() {
		err := conn.Close()
		if err != nil {
			t.Errorf("Failed to close client connection. %v", err)
		}
	})

	return conn, bufio.NewReader(conn)
}

func sendFrame(t *testing.T, conn net.Conn, reader *bufio.Reader, frame string) string {
	t.Helper()

	if _, err := conn.Write([]byte(frame)); err != nil {
		t.Fatalf("Write to server failed. %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	reply, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Read from server failed. %v", err)
	}

	return reply
}

func TestTCPMalformedThenValidFrame(t *testing.T) {
	ctx := testContext()
	_, memory, deviceID, vehicleID := startGateway(t, ctx)

	conn, reader := dialGateway(t)

	// Garbage first: negative acknowledgment, connection stays open.
	reply := sendFrame(t, conn, reader, "totally broken garbage\r\n")
	if reply != "ERROR\r\n" {
		t.Errorf("Wrong reply! Expected: ERROR Actual: %q", reply)
	}

	// A valid JSON frame on the very same connection.
	reply = sendFrame(t, conn, reader, `{"device_id":"GPS001","lat":11.4452,"lon":77.7307,"speed":42,"heading":180}`+"\n")
	if reply != "OK\r\n" {
		t.Errorf("Wrong reply! Expected: OK Actual: %q", reply)
	}

	// The acknowledgment is written after the write path ran, so the store
	// is settled here.
	vehicle, err := memory.GetVehicle(ctx, vehicleID)
	if err != nil {
		t.Fatalf("Failed to read vehicle. %v", err)
	}

	if vehicle.LastLatitude != 11.4452 || vehicle.LastLongitude != 77.7307 {
		t.Errorf("Wrong snapshot position: %f,%f", vehicle.LastLatitude, vehicle.LastLongitude)
	}
	if vehicle.LastSpeed != 42 || vehicle.LastHeading != 180 {
		t.Errorf("Wrong snapshot motion: %f km/h %f deg", vehicle.LastSpeed, vehicle.LastHeading)
	}
	if vehicle.LastFixAt == nil {
		t.Errorf("Snapshot fix time was not set")
	}

	history := memory.HistoryForVehicle(vehicleID)
	if len(history) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(history))
	}
	if history[0].Protocol != "json" {
		t.Errorf("Wrong protocol in history: %s", history[0].Protocol)
	}

	device, ok := memory.DeviceByID(deviceID)
	if !ok {
		t.Fatalf("Device disappeared")
	}
	if device.Status != store.DeviceStatusActive {
		t.Errorf("Wrong device status! Expected: %s Actual: %s", store.DeviceStatusActive, device.Status)
	}
	if device.LastHeartbeat == nil {
		t.Errorf("Device heartbeat was not set")
	}
}

func TestTCPUnresolvedDeviceStillAcknowledged(t *testing.T) {
	ctx := testContext()
	_, memory, _, vehicleID := startGateway(t, ctx)

	conn, reader := dialGateway(t)

	// The frame decodes fine but the identifier is not registered. The
	// device still gets its acknowledgment, nothing is persisted.
	reply := sendFrame(t, conn, reader, "GT06,UNKNOWN1,A,1126.7120,N,07743.8420,E,042.00,180,010924*\n")
	if reply != "OK\r\n" {
		t.Errorf("Wrong reply! Expected: OK Actual: %q", reply)
	}

	if history := memory.HistoryForVehicle(vehicleID); len(history) != 0 {
		t.Errorf("Expected empty history, got %d entries", len(history))
	}
}

func TestTCPSessionIdentifierForRMC(t *testing.T) {
	ctx := testContext()
	_, memory, _, vehicleID := startGateway(t, ctx)

	conn, reader := dialGateway(t)

	// A self identifying frame first, so the link is bound to GPS001.
	reply := sendFrame(t, conn, reader, `{"device_id":"GPS001","lat":11.4452,"lon":77.7307}`+"\n")
	if reply != "OK\r\n" {
		t.Fatalf("Wrong reply! Expected: OK Actual: %q", reply)
	}

	// RMC sentences carry no identifier, the session one is used.
	reply = sendFrame(t, conn, reader, "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A\r\n")
	if reply != "OK\r\n" {
		t.Fatalf("Wrong reply! Expected: OK Actual: %q", reply)
	}

	history := memory.HistoryForVehicle(vehicleID)
	if len(history) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(history))
	}
	if history[1].Protocol != "nmea" {
		t.Errorf("Wrong protocol in history: %s", history[1].Protocol)
	}
}

func TestUDPDatagramIngested(t *testing.T) {
	ctx := testContext()
	_, memory, _, vehicleID := startGateway(t, ctx)

	udpAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("127.0.0.1:%d", testUdpPort))
	if err != nil {
		t.Fatalf("ResolveUDPAddr failed. %v", err)
	}

	clientConnection, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		t.Fatalf("Dial failed. %v", err)
	}
	defer func() {
		err := clientConnection.Close()
		if err != nil {
			t.Errorf("Failed to close client connection. %v", err)
		}
	}()

	_, err = clientConnection.Write([]byte(`{"device_id":"GPS001","lat":11.4452,"lon":77.7307,"speed":42}`))
	if err != nil {
		t.Fatalf("Write to server failed. %v", err)
	}

	// UDP ingestion is asynchronous behind the worker pool, poll the store.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if history := memory.HistoryForVehicle(vehicleID); len(history) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Datagram was not ingested in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	vehicle, err := memory.GetVehicle(ctx, vehicleID)
	if err != nil {
		t.Fatalf("Failed to read vehicle. %v", err)
	}
	if vehicle.LastSpeed != 42 {
		t.Errorf("Wrong snapshot speed: %f", vehicle.LastSpeed)
	}
}
