package testenv

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"nhooyr.io/websocket"

	"github.com/diamondburned/arivoice/utils/wsutil"
)

// VoiceServer is a loopback stand-in for a Discord voice server. It answers
// Identify with Ready, Select Protocol with Session Description and Heartbeat
// with an ACK, and answers IP discovery on its UDP socket. Everything the
// client sends is recorded.
//
// Fields must be set before the first client connects.
type VoiceServer struct {
	SSRC              uint32
	Key               [32]byte
	Mode              string
	HeartbeatInterval time.Duration

	// DropDiscovery makes the UDP side ignore discovery requests.
	DropDiscovery bool
	// HoldSessionDescription makes the server never answer Select Protocol.
	HoldSessionDescription bool

	http   *httptest.Server
	udp    *net.UDPConn
	ctx    context.Context
	cancel context.CancelFunc

	ops    chan wsutil.OP
	frames chan []byte
	conns  chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewVoiceServer starts a VoiceServer that is stopped when the test ends.
func NewVoiceServer(t testing.TB) *VoiceServer {
	t.Helper()

	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal("failed to listen UDP:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &VoiceServer{
		SSRC:              0x1A2B3C4D,
		Mode:              "xsalsa20_poly1305",
		HeartbeatInterval: time.Hour,

		udp:    udp,
		ctx:    ctx,
		cancel: cancel,

		ops:    make(chan wsutil.OP, 256),
		frames: make(chan []byte, 1024),
		conns:  make(chan struct{}, 16),
	}

	for i := range s.Key {
		s.Key[i] = byte(i + 1)
	}

	s.http = httptest.NewServer(http.HandlerFunc(s.serveWS))
	go s.serveUDP()

	t.Cleanup(func() {
		cancel()
		udp.Close()
		s.http.Close()
	})

	return s
}

// Endpoint returns the endpoint to give to the client, with a ws:// scheme.
func (s *VoiceServer) Endpoint() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http")
}

// UDPPort returns the port of the UDP socket.
func (s *VoiceServer) UDPPort() int {
	return s.udp.LocalAddr().(*net.UDPAddr).Port
}

// Ops returns the payloads received from clients, in order.
func (s *VoiceServer) Ops() <-chan wsutil.OP {
	return s.ops
}

// Frames returns the non-discovery UDP datagrams received.
func (s *VoiceServer) Frames() <-chan []byte {
	return s.frames
}

// Connections receives once every time a client connects.
func (s *VoiceServer) Connections() <-chan struct{} {
	return s.conns
}

// WaitOP waits for the next payload with the given code, discarding others.
func (s *VoiceServer) WaitOP(t testing.TB, code wsutil.OPCode, timeout time.Duration) wsutil.OP {
	t.Helper()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case op := <-s.ops:
			if op.Code == code {
				return op
			}
		case <-timer.C:
			t.Fatalf("timed out waiting for OP %d", code)
			return wsutil.OP{}
		}
	}
}

// Send sends a payload to the connected client.
func (s *VoiceServer) Send(code wsutil.OPCode, v interface{}) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return errors.New("no client connected")
	}

	b, err := wsutil.NewOP(wsutil.DefaultCodec, code, v)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, b)
}

// CloseClient closes the connection to the client with the given code.
func (s *VoiceServer) CloseClient(code int, reason string) error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return errors.New("no client connected")
	}

	return conn.Close(websocket.StatusCode(code), reason)
}

func (s *VoiceServer) serveWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close(websocket.StatusGoingAway, "")

	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()

	select {
	case s.conns <- struct{}{}:
	default:
	}

	for {
		_, b, err := c.Read(s.ctx)
		if err != nil {
			return
		}

		var op wsutil.OP
		if err := json.Unmarshal(b, &op); err != nil {
			continue
		}

		select {
		case s.ops <- op:
		default:
		}

		switch op.Code {
		case 0: // Identify
			s.Send(2, map[string]interface{}{
				"ssrc":               s.SSRC,
				"ip":                 "127.0.0.1",
				"port":               s.UDPPort(),
				"modes":              []string{s.Mode},
				"heartbeat_interval": float64(s.HeartbeatInterval) / float64(time.Millisecond),
			})
		case 1: // Select Protocol
			if !s.HoldSessionDescription {
				s.Send(4, map[string]interface{}{
					"mode":       s.Mode,
					"secret_key": s.Key,
				})
			}
		case 3: // Heartbeat
			s.Send(6, op.Data)
		}
	}
}

func (s *VoiceServer) serveUDP() {
	buf := make([]byte, 2048)

	for {
		n, addr, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			return
		}

		if n == 70 && binary.BigEndian.Uint32(buf[:4]) == s.SSRC {
			if s.DropDiscovery {
				continue
			}

			var reply [70]byte
			binary.BigEndian.PutUint32(reply[:4], s.SSRC)
			copy(reply[4:68], addr.IP.String())
			binary.LittleEndian.PutUint16(reply[68:], uint16(addr.Port))

			s.udp.WriteToUDP(reply[:], addr)
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])

		select {
		case s.frames <- frame:
		default:
		}
	}
}
