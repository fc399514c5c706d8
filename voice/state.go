package voice

import (
	"net"
	"strconv"

	"go.uber.org/atomic"

	"github.com/diamondburned/arivoice/discord"
	"github.com/diamondburned/arivoice/voice/voicegateway"
)

// Params are the identifiers handed out by the main gateway that a voice
// session is started with.
type Params struct {
	GuildID   discord.GuildID
	UserID    discord.UserID
	SessionID string
	Token     string
	// Endpoint is the voice server's host, optionally with a port and scheme.
	Endpoint string
}

func (p Params) gatewayState() voicegateway.State {
	return voicegateway.State{
		GuildID:   p.GuildID,
		UserID:    p.UserID,
		SessionID: p.SessionID,
		Token:     p.Token,
		Endpoint:  p.Endpoint,
	}
}

// Address is a datagram host and port.
type Address struct {
	IP   string
	Port uint16
}

// String returns the address as host:port.
func (a Address) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(int(a.Port)))
}

// VoiceSession is the state shared between the signaling handler, the
// heartbeat and the pacer for one run of a Session. Every field has a single
// writer. The negotiated fields are write-once: the first write wins and later
// writes are ignored.
type VoiceSession struct {
	Params

	ssrc     atomic.Pointer[uint32]
	remote   atomic.Pointer[Address]
	external atomic.Pointer[Address]
	key      atomic.Pointer[[32]byte]

	// speaking is only written by the pacer.
	speaking atomic.Bool
}

func newVoiceSession(p Params) *VoiceSession {
	return &VoiceSession{Params: p}
}

// SSRC returns the SSRC assigned in Ready, or false if it's not known yet.
func (s *VoiceSession) SSRC() (uint32, bool) {
	if p := s.ssrc.Load(); p != nil {
		return *p, true
	}
	return 0, false
}

func (s *VoiceSession) setSSRC(ssrc uint32) bool {
	return s.ssrc.CompareAndSwap(nil, &ssrc)
}

// RemoteAddr returns the voice server's datagram address, or nil.
func (s *VoiceSession) RemoteAddr() *Address {
	return s.remote.Load()
}

// ExternalAddr returns our address as discovered, or nil.
func (s *VoiceSession) ExternalAddr() *Address {
	return s.external.Load()
}

func (s *VoiceSession) setTransport(remote, external Address) bool {
	if !s.remote.CompareAndSwap(nil, &remote) {
		return false
	}
	s.external.Store(&external)
	return true
}

// SecretKey returns the key from Session Description, or nil if it hasn't
// been received.
func (s *VoiceSession) SecretKey() *[32]byte {
	return s.key.Load()
}

func (s *VoiceSession) setSecretKey(key [32]byte) bool {
	return s.key.CompareAndSwap(nil, &key)
}

// Speaking returns whether we last told the server that we're speaking.
func (s *VoiceSession) Speaking() bool {
	return s.speaking.Load()
}
