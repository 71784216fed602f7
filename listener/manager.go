package listener

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fleetgate/fleetgate/ingest"
	"github.com/fleetgate/fleetgate/metrics"
	"github.com/fleetgate/fleetgate/protocol"
)

const stopGracePeriod = 5 * time.Second

/*
Manager owns the transport side of the gateway: the TCP listener with one
goroutine per device connection and the UDP listener with a bounded worker
pool. Both feed decoded fixes into the shared ingest pipeline. Individual
connection failures never take the listeners down.
*/
type Manager struct {
	ctx        context.Context
	localCtx   context.Context
	stopFunc   context.CancelFunc
	wg         *sync.WaitGroup
	host       string
	dispatcher *protocol.Dispatcher
	pipeline   *ingest.Pipeline
	metrics    metrics.GatewayMetricsInterface

	udpQueueSize int
	udpWorkers   int

	tcpListener net.Listener
	udpConn     *net.UDPConn
	conns       sync.Map // remote address -> net.Conn
}

func NewManager(ctx context.Context, wg *sync.WaitGroup, host string, dispatcher *protocol.Dispatcher, pipeline *ingest.Pipeline, m metrics.GatewayMetricsInterface, udpQueueSize, udpWorkers int) *Manager {
	localCtx, stopFunc := context.WithCancel(ctx)

	return &Manager{
		ctx:          ctx,
		localCtx:     localCtx,
		stopFunc:     stopFunc,
		wg:           wg,
		host:         host,
		dispatcher:   dispatcher,
		pipeline:     pipeline,
		metrics:      m,
		udpQueueSize: udpQueueSize,
		udpWorkers:   udpWorkers,
	}
}

/*
Stop closes the listening sockets and gives in-flight TCP connections a
grace period to drain before force closing them.
*/
func (m *Manager) Stop() error {
	if m.stopFunc == nil {
		return fmt.Errorf("listener manager is not running")
	}

	m.stopFunc()
	m.stopFunc = nil

	if m.tcpListener != nil {
		_ = m.tcpListener.Close()
	}
	if m.udpConn != nil {
		_ = m.udpConn.Close()
	}

	time.AfterFunc(stopGracePeriod, func() {
		m.conns.Range(func(key, value any) bool {
			conn := value.(net.Conn)
			_ = conn.Close()
			return true
		})
	})

	return nil
}

func (m *Manager) addSentBytes(count uint64) {
	if m.metrics != nil {
		m.metrics.AddSentBytes(count)
	}
}

func (m *Manager) addReceivedBytes(count uint64) {
	if m.metrics != nil {
		m.metrics.AddReceivedBytes(count)
	}
}

func (m *Manager) addSentFrames(count uint64) {
	if m.metrics != nil {
		m.metrics.AddSentFrames(count)
	}
}

func (m *Manager) addReceivedFrames(count uint64) {
	if m.metrics != nil {
		m.metrics.AddReceivedFrames(count)
	}
}

func (m *Manager) addMalformedFrames(count uint64) {
	if m.metrics != nil {
		m.metrics.AddMalformedFrames(count)
	}
}

func (m *Manager) addDroppedFrames(count uint64) {
	if m.metrics != nil {
		m.metrics.AddDroppedFrames(count)
	}
}
