package smscmd

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetgate/fleetgate/config"
	"github.com/fleetgate/fleetgate/ingest"
	"github.com/fleetgate/fleetgate/protocol"
	"github.com/fleetgate/fleetgate/store"
)

func testContext() context.Context {
	log := logrus.New()
	log.SetLevel(logrus.TraceLevel)
	cfg := config.NewConfig(log, nil, nil, nil, nil, nil, nil, nil)
	return context.WithValue(context.Background(), config.ContextConfigKey, cfg)
}

// fakeSender records outbound messages and optionally answers them like a
// device would, through HandleInbound.
type fakeSender struct {
	mu      sync.Mutex
	sent    []string
	replyFn func(to, body string)
}

func (s *fakeSender) Send(ctx context.Context, to, body string) error {
	s.mu.Lock()
	s.sent = append(s.sent, body)
	replyFn := s.replyFn
	s.mu.Unlock()

	if replyFn != nil {
		go replyFn(to, body)
	}

	return nil
}

func (s *fakeSender) sentCommands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	commands := make([]string, len(s.sent))
	copy(commands, s.sent)
	return commands
}

func newTestChannel(t *testing.T, ctx context.Context, sender Sender, timeout time.Duration) (*Channel, *store.MemoryStore, *store.GPSDevice, uint) {
	t.Helper()

	memory := store.NewMemoryStore()
	deviceID := memory.AddDevice(store.GPSDevice{DeviceID: "GPS001", SimNumber: "+36 20 123 4567", DeviceModel: "gt06"})
	vehicleID := memory.AddVehicle(store.Vehicle{Registration: "ABC-123", GPSDeviceID: &deviceID, LiveTrackingEnabled: true})

	dispatcher, err := protocol.NewDispatcher(nil)
	if err != nil {
		t.Fatalf("Failed to build dispatcher. %v", err)
	}

	registry := ingest.NewRegistry(memory)
	applier := ingest.NewApplier(ctx, memory, nil)
	pipeline := ingest.NewPipeline(ctx, registry, applier, nil)

	wg := &sync.WaitGroup{}
	channel := NewChannel(ctx, wg, sender, dispatcher, pipeline, nil, timeout)

	device, ok := memory.DeviceByID(deviceID)
	if !ok {
		t.Fatalf("Device disappeared")
	}

	return channel, memory, device, vehicleID
}

func TestRequestLocation(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	sender := &fakeSender{}
	channel, memory, device, vehicleID := newTestChannel(t, ctx, sender, 5*time.Second)

	// The device answers the poll command with a GT06 style position, the
	// sender's number written differently than it is registered.
	sender.replyFn = func(to, body string) {
		channel.HandleInbound("0036201234567", "GT06,GPS001,A,1126.7120,N,07743.8420,E,042.00,180,010924*")
	}

	f, err := channel.RequestLocation(ctx, device)
	if err != nil {
		t.Fatalf("Unexpected error. %v", err)
	}

	if f.DeviceIdentifier != "GPS001" {
		t.Errorf("Wrong identifier! Expected: GPS001 Actual: %s", f.DeviceIdentifier)
	}

	commands := sender.sentCommands()
	if len(commands) != 1 || commands[0] != "WHERE#" {
		t.Errorf("Wrong outbound commands: %v", commands)
	}

	// The reply went through the ingest pipeline like any socket fix.
	history := memory.HistoryForVehicle(vehicleID)
	if len(history) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(history))
	}
	if history[0].Protocol != "gt06" {
		t.Errorf("Wrong protocol in history: %s", history[0].Protocol)
	}
}

func TestRequestLocationTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	sender := &fakeSender{} // never replies
	channel, _, device, _ := newTestChannel(t, ctx, sender, 50*time.Millisecond)

	_, err := channel.RequestLocation(ctx, device)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Errorf("Wrong error! Expected: %v Actual: %v", ErrCommandTimeout, err)
	}

	// The pending slot is freed, a new request may start right away.
	if _, err := channel.register(device); err != nil {
		t.Errorf("Pending slot was not freed. %v", err)
	}
}

// slowSender models a sluggish gateway: the POST itself eats into the reply
// window.
type slowSender struct {
	delay time.Duration
}

func (s *slowSender) Send(ctx context.Context, to, body string) error {
	time.Sleep(s.delay)
	return nil
}

func TestRequestLocationTimeoutMatchesPendingExpiry(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	timeout := 300 * time.Millisecond
	sender := &slowSender{delay: 250 * time.Millisecond}
	channel, _, device, _ := newTestChannel(t, ctx, sender, timeout)

	started := time.Now()
	_, err := channel.RequestLocation(ctx, device)
	elapsed := time.Since(started)

	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("Wrong error! Expected: %v Actual: %v", ErrCommandTimeout, err)
	}

	// The waiter gives up when the pending entry expires. A window counted
	// from the end of the slow send would hold the caller for the delay
	// plus the full timeout.
	if elapsed >= timeout+sender.delay {
		t.Errorf("Waiter outlived the pending entry: %v elapsed for a %v window", elapsed, timeout)
	}
}

func TestRequestLocationWithoutSim(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	sender := &fakeSender{}
	channel, memory, _, _ := newTestChannel(t, ctx, sender, time.Second)

	simlessID := memory.AddDevice(store.GPSDevice{DeviceID: "GPS009"})
	simless, _ := memory.DeviceByID(simlessID)

	_, err := channel.RequestLocation(ctx, simless)
	if !errors.Is(err, ErrNoSimNumber) {
		t.Errorf("Wrong error! Expected: %v Actual: %v", ErrNoSimNumber, err)
	}
}

func TestHandleInboundWithoutPendingRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	sender := &fakeSender{}
	channel, _, _, _ := newTestChannel(t, ctx, sender, time.Second)

	if channel.HandleInbound("+36201234567", "GT06,GPS001,A,1126.7120,N,07743.8420,E,042.00,180,010924*") {
		t.Errorf("An unsolicited message must not match anything")
	}
}

func TestConfigureDirectConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	sender := &fakeSender{}
	channel, _, device, _ := newTestChannel(t, ctx, sender, 5*time.Second)

	// The device acknowledges every provisioning step.
	sender.replyFn = func(to, body string) {
		channel.HandleInbound("+36201234567", "OK")
	}

	err := channel.ConfigureDirectConnection(ctx, device, "gw.example.com:5023")
	if err != nil {
		t.Fatalf("Unexpected error. %v", err)
	}

	commands := sender.sentCommands()
	if len(commands) != 4 {
		t.Fatalf("Expected 4 provisioning commands, got %d: %v", len(commands), commands)
	}
	if !strings.Contains(commands[1], "gw.example.com") || !strings.Contains(commands[1], "5023") {
		t.Errorf("Server endpoint missing from %q", commands[1])
	}
}

func TestConfigureDirectConnectionRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	sender := &fakeSender{}
	channel, _, device, _ := newTestChannel(t, ctx, sender, 5*time.Second)

	sender.replyFn = func(to, body string) {
		channel.HandleInbound("+36201234567", "FAIL")
	}

	err := channel.ConfigureDirectConnection(ctx, device, "gw.example.com:5023")
	if err == nil {
		t.Fatalf("Expected the sequence to stop on a rejected step")
	}

	commands := sender.sentCommands()
	if len(commands) != 1 {
		t.Errorf("Expected the sequence to stop after the first step, got %v", commands)
	}
}

func TestConfigureDirectConnectionBadAddress(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	sender := &fakeSender{}
	channel, _, device, _ := newTestChannel(t, ctx, sender, time.Second)

	err := channel.ConfigureDirectConnection(ctx, device, "no-port-here")
	if err == nil {
		t.Errorf("Expected error for an address without port")
	}
	if len(sender.sentCommands()) != 0 {
		t.Errorf("Nothing must be sent for an invalid address")
	}
}
