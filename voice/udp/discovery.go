package udp

import (
	"context"
	"encoding/binary"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DiscoverySize is the size of both the discovery request and response.
const DiscoverySize = 70

// ErrDiscoveryTimeout is returned when the voice server does not answer the
// discovery request in time.
var ErrDiscoveryTimeout = errors.New("timed out waiting for IP discovery response")

// DiscoveryPacket builds the request: the SSRC in big endian followed by
// zeros.
func DiscoveryPacket(ssrc uint32) [DiscoverySize]byte {
	var b [DiscoverySize]byte
	binary.BigEndian.PutUint32(b[0:4], ssrc)
	return b
}

// ParseDiscovery parses a discovery response. The address is a zero-padded
// string in [4,68) and the port is a little-endian uint16 in [68,70).
func ParseDiscovery(b []byte) (ip string, port uint16, err error) {
	if len(b) < DiscoverySize {
		return "", 0, errors.Errorf("discovery response is %d bytes, expected %d", len(b), DiscoverySize)
	}

	ip = strings.TrimFunc(string(b[4:68]), func(r rune) bool { return r <= ' ' })
	if ip == "" {
		return "", 0, errors.New("discovery response has no address")
	}

	port = binary.LittleEndian.Uint16(b[68:70])
	return ip, port, nil
}

// Discover sends the discovery request over conn and waits at most timeout for
// the response. Datagrams too short to be a response are skipped. The read
// deadline of conn is cleared before returning.
func Discover(ctx context.Context, conn net.Conn, ssrc uint32, timeout time.Duration) (string, uint16, error) {
	request := DiscoveryPacket(ssrc)

	if _, err := conn.Write(request[:]); err != nil {
		return "", 0, errors.Wrap(err, "failed to write discovery packet")
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", 0, errors.Wrap(err, "failed to set read deadline")
	}
	defer conn.SetReadDeadline(time.Time{})

	// Unblock the read if the context is cancelled.
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Unix(1, 0))
		case <-stop:
		}
	}()

	buf := make([]byte, 1500)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, errors.Wrap(ctx.Err(), "discovery cancelled")
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return "", 0, errors.Wrapf(ErrDiscoveryTimeout, "no response after %v", timeout)
			}

			return "", 0, errors.Wrap(err, "failed to read discovery response")
		}

		if n < DiscoverySize {
			continue
		}

		return ParseDiscovery(buf[:n])
	}
}
