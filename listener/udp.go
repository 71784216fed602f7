package listener

import (
	"fmt"
	"net"

	"github.com/fleetgate/fleetgate/config"
)

type udpPacket struct {
	data   []byte
	remote *net.UDPAddr
}

/*
StartUDP opens the UDP socket and starts the receive loop plus the worker
pool. Each datagram is one frame; the receive loop never blocks on the
ingest pipeline, a full queue drops the packet instead (bounded memory if
the write path backs up). There is no negative acknowledgment channel back
to an unknown sender: failures are logged and dropped. A decoder supplied
ack (the Teltonika record count) is still answered, those devices resend
forever without one.
*/
func (m *Manager) StartUDP(port int) error {
	log := config.GetLogger(m.ctx)

	var err error
	m.udpConn, err = net.ListenUDP("udp", &net.UDPAddr{
		Port: port,
		IP:   net.ParseIP(m.host),
	})
	if err != nil {
		return fmt.Errorf("failed to open UDP listening socket. %v", err)
	}

	log.Infof("Start UDP listener on %s:%d", m.host, port)

	queue := make(chan udpPacket, m.udpQueueSize)

	for i := 0; i < m.udpWorkers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()

			for {
				select {
				case <-m.localCtx.Done():
					return
				case packet := <-queue:
					m.handleDatagram(packet)
				}
			}
		}()
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		buffer := make([]byte, maxFrameSize)
		for {
			size, remote, err := m.udpConn.ReadFromUDP(buffer)
			if err != nil {
				select {
				case <-m.localCtx.Done():
					return
				default:
				}

				log.Errorf("Failed to read from UDP socket. %v", err)
				return
			}

			m.addReceivedBytes(uint64(size))
			m.addReceivedFrames(1)

			data := make([]byte, size)
			copy(data, buffer[:size])

			select {
			case queue <- udpPacket{data: data, remote: remote}:
			default:
				log.Warningf("UDP work queue full, dropping %d bytes from %v", size, remote)
				m.addDroppedFrames(1)
			}
		}
	}()

	return nil
}

func (m *Manager) handleDatagram(packet udpPacket) {
	log := config.GetLogger(m.ctx)

	decoded, ok := m.dispatcher.Decode(packet.data)
	if !ok {
		log.Warningf("Malformed datagram from %v: %q", packet.remote, packet.data)
		m.addMalformedFrames(1)
		return
	}

	for _, f := range decoded.Fixes {
		_ = m.pipeline.Ingest(m.localCtx, f)
	}

	if decoded.Ack != nil {
		size, err := m.udpConn.WriteToUDP(decoded.Ack, packet.remote)
		if err != nil {
			log.Errorf("Failed to send acknowledgment to %v. %v", packet.remote, err)
			return
		}

		m.addSentBytes(uint64(size))
		m.addSentFrames(1)
	}
}
