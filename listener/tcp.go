package listener

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/fleetgate/fleetgate/config"
)

var (
	ackOK  = []byte("OK\r\n")
	ackErr = []byte("ERROR\r\n")
)

// StartTCP opens the TCP listening socket and starts the accept loop.
func (m *Manager) StartTCP(port int) error {
	log := config.GetLogger(m.ctx)

	var err error
	m.tcpListener, err = net.Listen("tcp", fmt.Sprintf("%s:%d", m.host, port))
	if err != nil {
		return fmt.Errorf("failed to open TCP listening socket. %v", err)
	}

	log.Infof("Start TCP listener on %s:%d", m.host, port)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		for {
			conn, err := m.tcpListener.Accept()
			if err != nil {
				if strings.Contains(err.Error(), "use of closed network connection") {
					return
				}

				select {
				case <-m.localCtx.Done():
					return
				default:
				}

				log.Errorf("Failed to accept connection. %v", err)
				continue
			}

			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.handleConnection(conn)
			}()
		}
	}()

	return nil
}

/*
handleConnection runs the blocking read loop of one device link. The stream
is cut into frames by SplitFrames; every decoded frame gets an
acknowledgment, every malformed one a negative acknowledgment, and the
connection stays open either way. Only socket errors end the loop.
*/
func (m *Manager) handleConnection(conn net.Conn) {
	log := config.GetLogger(m.ctx)

	remote := conn.RemoteAddr().String()
	m.conns.Store(remote, conn)

	defer func() {
		m.conns.Delete(remote)
		err := conn.Close()
		if err != nil {
			log.Debugf("Failed to close connection of %s. %v", remote, err)
		}
		log.Infof("Device disconnected: %s", remote)
	}()

	log.Infof("Device connected: %s", remote)

	// Identifier of the device on this link, remembered from the last
	// self identifying frame. NMEA style sentences carry no identifier
	// and lean on this.
	sessionIdentifier := ""

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameSize)
	scanner.Split(SplitFrames)

	for scanner.Scan() {
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())

		if len(frame) == 0 {
			continue
		}

		m.addReceivedBytes(uint64(len(frame)))
		m.addReceivedFrames(1)

		decoded, ok := m.dispatcher.Decode(frame)
		if !ok {
			log.Warningf("Malformed frame from %s: %q", remote, frame)
			m.addMalformedFrames(1)
			m.writeAck(conn, ackErr)
			continue
		}

		for _, f := range decoded.Fixes {
			if f.DeviceIdentifier == "" {
				f = f.WithIdentifier(sessionIdentifier)
			} else {
				sessionIdentifier = f.DeviceIdentifier
			}

			// Ingest errors are frame local: counted and logged by the
			// pipeline, the link stays up.
			_ = m.pipeline.Ingest(m.localCtx, f)
		}

		ack := decoded.Ack
		if ack == nil {
			ack = ackOK
		}
		m.writeAck(conn, ack)
	}

	if err := scanner.Err(); err != nil {
		log.Debugf("Read loop of %s ended. %v", remote, err)
	}
}

func (m *Manager) writeAck(conn net.Conn, ack []byte) {
	log := config.GetLogger(m.ctx)

	size, err := conn.Write(ack)
	if err != nil {
		// just log the error and let the connection alive
		log.Errorf("Failed to send acknowledgment to %s. %v", conn.RemoteAddr(), err)
		return
	}

	m.addSentBytes(uint64(size))
	m.addSentFrames(1)
}
