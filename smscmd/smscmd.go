package smscmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/fleetgate/fleetgate/config"
	"github.com/fleetgate/fleetgate/fix"
	"github.com/fleetgate/fleetgate/ingest"
	"github.com/fleetgate/fleetgate/metrics"
	"github.com/fleetgate/fleetgate/protocol"
	"github.com/fleetgate/fleetgate/store"
)

var (
	ErrCommandTimeout = errors.New("no reply from device within the wait window")
	ErrRequestPending = errors.New("a request is already in flight for this device")
	ErrNoSimNumber    = errors.New("device has no SIM number configured")
)

const sweepInterval = time.Minute

// Sender pushes one outbound SMS through the operator's gateway.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

type pendingRequest struct {
	deviceID uint
	sim      string
	expires  time.Time
	reply    chan string
}

/*
Channel is the out-of-band command path for devices with no persistent
socket link. Requests are an explicit pending table keyed by device ID:
an inbound reply matching the SIM resolves the request, an expiry task
times it out. No bare timers and callbacks.
*/
type Channel struct {
	ctx          context.Context
	sender       Sender
	dispatcher   *protocol.Dispatcher
	pipeline     *ingest.Pipeline
	metrics      metrics.GatewayMetricsInterface
	replyTimeout time.Duration

	mu      sync.Mutex
	pending map[uint]*pendingRequest
}

func NewChannel(ctx context.Context, wg *sync.WaitGroup, sender Sender, dispatcher *protocol.Dispatcher, pipeline *ingest.Pipeline, m metrics.GatewayMetricsInterface, replyTimeout time.Duration) *Channel {
	c := &Channel{
		ctx:          ctx,
		sender:       sender,
		dispatcher:   dispatcher,
		pipeline:     pipeline,
		metrics:      m,
		replyTimeout: replyTimeout,
		pending:      make(map[uint]*pendingRequest),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweepExpired()
			}
		}
	}()

	return c
}

/*
RequestLocation sends the device model specific poll command over SMS and
waits a bounded interval for the reply. A decoded reply is pushed through
the ingest pipeline like any socket sourced fix and also returned to the
caller.
*/
func (c *Channel) RequestLocation(ctx context.Context, device *store.GPSDevice) (*fix.LocationFix, error) {
	log := config.GetLogger(c.ctx)

	request, err := c.register(device)
	if err != nil {
		return nil, err
	}
	defer c.unregister(device.ID)

	command := locationCommand(device)
	log.Infof("Requesting location of device %s via SMS %s", device.DeviceID, device.SimNumber)

	err = c.sender.Send(ctx, device.SimNumber, command)
	if err != nil {
		return nil, fmt.Errorf("failed to send location request to %s. %v", device.DeviceID, err)
	}

	// The wait window is the pending entry's own expiry, not a fresh
	// timeout: a slow gateway send must not leave the waiter accepting
	// replies HandleInbound already refuses as expired.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Until(request.expires)):
		c.addCommandTimeouts(1)
		return nil, fmt.Errorf("device %s: %w", device.DeviceID, ErrCommandTimeout)
	case body := <-request.reply:
		return c.applyReply(ctx, device, body)
	}
}

func (c *Channel) applyReply(ctx context.Context, device *store.GPSDevice, body string) (*fix.LocationFix, error) {
	decoded, ok := c.dispatcher.Decode([]byte(body))
	if !ok || len(decoded.Fixes) == 0 {
		return nil, fmt.Errorf("unparseable reply from device %s: %q", device.DeviceID, body)
	}

	f := decoded.Fixes[0]
	if f.DeviceIdentifier == "" {
		f = f.WithIdentifier(device.DeviceID)
	}

	err := c.pipeline.Ingest(ctx, f)
	if err != nil {
		return nil, err
	}

	return &f, nil
}

/*
ConfigureDirectConnection provisions a device to speak to the TCP/UDP
listener directly: APN, server endpoint, reporting interval, ack mode. Each
step waits for an acknowledging reply; a timeout is reported to the caller
and the sequence stops, it is not retried indefinitely.
*/
func (c *Channel) ConfigureDirectConnection(ctx context.Context, device *store.GPSDevice, serverAddress string) error {
	log := config.GetLogger(c.ctx)

	host, port, err := net.SplitHostPort(serverAddress)
	if err != nil {
		return fmt.Errorf("invalid server address %q. %v", serverAddress, err)
	}

	commands := provisioningCommands(device, host, port)

	for i, command := range commands {
		log.Infof("Provisioning device %s, step %d/%d: %s", device.DeviceID, i+1, len(commands), command)

		err := c.sendAndAwaitAck(ctx, device, command)
		if err != nil {
			return fmt.Errorf("provisioning step %d (%s) failed: %w", i+1, command, err)
		}
	}

	log.Infof("Device %s provisioned for direct connection to %s", device.DeviceID, serverAddress)

	return nil
}

func (c *Channel) sendAndAwaitAck(ctx context.Context, device *store.GPSDevice, command string) error {
	request, err := c.register(device)
	if err != nil {
		return err
	}
	defer c.unregister(device.ID)

	err = c.sender.Send(ctx, device.SimNumber, command)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Until(request.expires)):
		c.addCommandTimeouts(1)
		return ErrCommandTimeout
	case body := <-request.reply:
		if !strings.Contains(strings.ToUpper(body), "OK") {
			return fmt.Errorf("device rejected command: %q", body)
		}
		return nil
	}
}

/*
HandleInbound correlates one inbound SMS to its pending request by the
sender's number. Returns false when no live request matches; such messages
belong to nobody and are dropped by the caller.
*/
func (c *Channel) HandleInbound(from, body string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	normalized := normalizeNumber(from)

	for _, request := range c.pending {
		if normalizeNumber(request.sim) != normalized {
			continue
		}
		if request.expires.Before(now) {
			continue
		}

		select {
		case request.reply <- body:
			return true
		default:
			// The waiter already gave up.
			return false
		}
	}

	return false
}

func (c *Channel) register(device *store.GPSDevice) (*pendingRequest, error) {
	if device.SimNumber == "" {
		return nil, fmt.Errorf("device %s: %w", device.DeviceID, ErrNoSimNumber)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.pending[device.ID]; ok && existing.expires.After(time.Now()) {
		return nil, fmt.Errorf("device %s: %w", device.DeviceID, ErrRequestPending)
	}

	request := &pendingRequest{
		deviceID: device.ID,
		sim:      device.SimNumber,
		expires:  time.Now().Add(c.replyTimeout),
		reply:    make(chan string, 1),
	}
	c.pending[device.ID] = request

	return request, nil
}

func (c *Channel) unregister(deviceID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, deviceID)
}

func (c *Channel) sweepExpired() {
	log := config.GetLogger(c.ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for deviceID, request := range c.pending {
		if request.expires.Before(now) {
			delete(c.pending, deviceID)
			log.Debugf("Expired pending SMS request for device %d removed.", deviceID)
		}
	}
}

func (c *Channel) addCommandTimeouts(count uint64) {
	if c.metrics != nil {
		c.metrics.AddCommandTimeouts(count)
	}
}

func normalizeNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
