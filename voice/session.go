// Package voice streams Opus audio into a Discord voice channel.
//
// A Session is started with the identifiers that the main gateway hands out
// for a voice channel. It opens the voice websocket, discovers its external
// address over UDP, keeps the websocket alive with heartbeats and finally
// paces audio pulled from an AudioSource onto the wire, one sealed datagram
// every 20 milliseconds.
package voice

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-csync"
	"go.uber.org/atomic"

	"github.com/diamondburned/arivoice/discord"
	"github.com/diamondburned/arivoice/internal/heart"
	"github.com/diamondburned/arivoice/internal/metronome"
	"github.com/diamondburned/arivoice/utils/handler"
	"github.com/diamondburned/arivoice/utils/wsutil"
	"github.com/diamondburned/arivoice/voice/udp"
	"github.com/diamondburned/arivoice/voice/voicegateway"
)

// State is the lifecycle state of a Session.
type State string

const (
	Starting      State = "STARTING"
	Connecting    State = "CONNECTING"
	Negotiating   State = "NEGOTIATING"
	Active        State = "ACTIVE"
	Disconnecting State = "DISCONNECTING"
	Closed        State = "CLOSED"
)

const (
	evStart      = "start"
	evNegotiate  = "negotiate"
	evActivate   = "activate"
	evDisconnect = "disconnect"
	evClose      = "close"
)

// ErrAlreadyActive is returned by Start if the session is already started.
var ErrAlreadyActive = errors.New("voice session already active")

// DiscoveryTimeout is the default time to wait for the IP discovery reply.
const DiscoveryTimeout = 10 * time.Second

// UDPDialer is the function signature of udp.DialConnection.
type UDPDialer = func(ctx context.Context, addr string, ssrc uint32, timeout time.Duration) (*udp.Connection, error)

// Session is a single voice session. It can be started again once closed.
type Session struct {
	// Handler receives the events in events.go. Synchronous handlers must not
	// call Start or Disconnect, as the lifecycle events are dispatched with the
	// session locked.
	Handler *handler.Handlers[Event]
	// Registry, if not nil, holds the session while it's started.
	Registry *Registry
	// Metrics, if not nil, records the session's activity.
	Metrics *Metrics

	// Source is where audio is pulled from once the session is active.
	Source AudioSource
	// Sealer seals audio payloads. Defaults to udp.XSalsa20Poly1305.
	Sealer udp.Sealer
	// Clock drives the audio cadence. Defaults to the real clock.
	Clock metronome.Clock

	DiscoveryTimeout time.Duration // 10s
	FrameDuration    time.Duration // 20ms
	FrameSamples     uint32        // 960
	WSTimeout        time.Duration // wsutil.WSTimeout

	// DialUDP dials the voice UDP connection and runs discovery.
	DialUDP UDPDialer
	// NewConn, if not nil, creates the websocket transport.
	NewConn func() wsutil.Connection

	// ErrorLog receives the errors that don't stop the session.
	ErrorLog func(error)

	mutex      csync.Mutex
	fsm        *fsm.FSM
	run        atomic.Pointer[run]
	suppressed atomic.Bool
}

// NewSession creates a new session that plays audio from src.
func NewSession(src AudioSource) *Session {
	s := &Session{
		Handler: handler.New[Event](),

		Source:           src,
		Sealer:           udp.XSalsa20Poly1305,
		Clock:            metronome.RealClock,
		DiscoveryTimeout: DiscoveryTimeout,
		FrameDuration:    FrameDuration,
		FrameSamples:     FrameSamples,
		WSTimeout:        wsutil.WSTimeout,

		DialUDP:  udp.DialConnection,
		ErrorLog: func(err error) { wsutil.WSError(err) },
	}

	s.fsm = fsm.NewFSM(
		string(Starting),
		fsm.Events{
			{Name: evStart, Src: []string{string(Starting), string(Closed)}, Dst: string(Connecting)},
			{Name: evNegotiate, Src: []string{string(Connecting)}, Dst: string(Negotiating)},
			{Name: evActivate, Src: []string{string(Negotiating)}, Dst: string(Active)},
			{Name: evDisconnect, Src: []string{
				string(Connecting), string(Negotiating), string(Active),
			}, Dst: string(Disconnecting)},
			{Name: evClose, Src: []string{string(Disconnecting)}, Dst: string(Closed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				wsutil.WSDebug("Voice: Session", e.Src, "->", e.Dst)

				s.Handler.Dispatch(&StateChangedEvent{
					GuildID: s.guildID(),
					From:    State(e.Src),
					To:      State(e.Dst),
				})
			},
		},
	)

	return s
}

// run is everything belonging to one Start call. The gateway goroutine, the
// heartbeat and the pacer each only hold what they need from it.
type run struct {
	session *VoiceSession
	gateway *voicegateway.Gateway
	dir     directory

	ctx    context.Context
	cancel context.CancelFunc
	// started receives once: nil when active or the error that stopped the
	// handshake.
	started chan error

	mu         sync.Mutex
	stopped    bool
	conn       *udp.Connection
	heart      *heart.Pacemaker
	pacer      *Pacer
	interval   time.Duration
	discovered bool
}

func (r *run) report(err error) {
	select {
	case r.started <- err:
	default:
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.fsm.Current())
}

// VoiceSession returns the state of the current or last run, or nil if the
// session was never started.
func (s *Session) VoiceSession() *VoiceSession {
	if r := s.run.Load(); r != nil {
		return r.session
	}
	return nil
}

// SetAudioSuppressed mutes or unmutes the session. While muted, frames are
// treated as if the source had nothing to give.
func (s *Session) SetAudioSuppressed(suppressed bool) {
	s.suppressed.Store(suppressed)
}

// AudioSuppressed returns whether the session is muted.
func (s *Session) AudioSuppressed() bool {
	return s.suppressed.Load()
}

// UserBySSRC returns the user that was last seen speaking with the SSRC.
func (s *Session) UserBySSRC(ssrc uint32) (discord.UserID, bool) {
	r := s.run.Load()
	if r == nil {
		return 0, false
	}
	return r.dir.Get(ssrc)
}

func (s *Session) guildID() discord.GuildID {
	if r := s.run.Load(); r != nil {
		return r.session.GuildID
	}
	return 0
}

// Start connects the session and blocks until audio starts flowing, the
// handshake fails or ctx is done. A failed Start leaves the session CLOSED.
// ErrAlreadyActive is returned if the session is neither new nor closed.
func (s *Session) Start(ctx context.Context, p Params) error {
	if err := s.mutex.CLock(ctx); err != nil {
		return errors.Wrap(err, "failed to acquire lock")
	}

	if !s.fsm.Can(evStart) {
		s.mutex.Unlock()
		return ErrAlreadyActive
	}

	if s.Registry != nil && !s.Registry.put(p.GuildID, s) {
		s.mutex.Unlock()
		return errors.Wrap(ErrAlreadyActive, "guild already has a voice session")
	}

	r := s.newRun(p)
	s.run.Store(r)

	if err := s.fsm.Event(ctx, evStart); err != nil {
		s.mutex.Unlock()
		return errors.Wrap(err, "failed to start")
	}

	s.mutex.Unlock()

	if err := r.gateway.Open(ctx); err != nil {
		s.disconnect(r, StartFailed)
		return err
	}

	select {
	case err := <-r.started:
		if err != nil {
			s.disconnect(r, StartFailed)
			return err
		}
		return nil
	case <-ctx.Done():
		s.disconnect(r, StartFailed)
		return ctx.Err()
	}
}

func (s *Session) newRun(p Params) *run {
	ctx, cancel := context.WithCancel(context.Background())

	r := &run{
		session: newVoiceSession(p),
		dir:     newDirectory(DirectorySize),
		ctx:     ctx,
		cancel:  cancel,
		started: make(chan error, 1),
	}

	g := voicegateway.New(p.gatewayState())
	if s.NewConn != nil {
		g.NewConn = s.NewConn
	}
	g.Timeout = s.WSTimeout
	g.ErrorLog = func(err error) { s.ErrorLog(err) }
	g.OnEvent = func(ev voicegateway.Event) { s.handleEvent(r, ev) }
	g.AfterClose = func(code int, reason string) { s.handleClose(r, code, reason) }

	r.gateway = g
	return r
}

// Disconnect tears the session down and leaves it CLOSED. The application is
// notified first, then the heartbeat, the pacer, the UDP connection and the
// websocket are stopped in that order. Disconnecting a session that isn't
// started does nothing.
func (s *Session) Disconnect(reason Reason) error {
	return s.disconnect(s.run.Load(), reason)
}

func (s *Session) disconnect(r *run, reason Reason) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if r == nil || s.run.Load() != r || !s.fsm.Can(evDisconnect) {
		return nil
	}

	wasActive := s.fsm.Is(string(Active))

	if err := s.fsm.Event(r.ctx, evDisconnect); err != nil {
		return errors.Wrap(err, "failed to disconnect")
	}

	wsutil.WSDebug("Voice: Disconnecting with reason", reason)

	// Unblock Start and anything still handshaking.
	r.report(errors.New("voice session disconnected"))
	r.cancel()

	s.Handler.Dispatch(&DisconnectedEvent{
		GuildID: r.session.GuildID,
		Reason:  reason,
	})

	if s.Registry != nil {
		s.Registry.remove(r.session.GuildID, s)
	}

	r.mu.Lock()
	r.stopped = true
	pacemaker, pacer, conn := r.heart, r.pacer, r.conn
	r.mu.Unlock()

	if pacemaker != nil {
		pacemaker.Stop()
	}

	if pacer != nil {
		pacer.Stop()
	}

	if conn != nil {
		conn.Close()
	}

	err := r.gateway.Close()

	if wasActive {
		s.Metrics.active(-1)
	}

	if ferr := s.fsm.Event(context.Background(), evClose); ferr != nil {
		return errors.Wrap(ferr, "failed to close")
	}

	if err != nil {
		return errors.Wrap(err, "failed to close voice gateway")
	}

	return nil
}

// handleEvent is called on the gateway goroutine.
func (s *Session) handleEvent(r *run, ev voicegateway.Event) {
	switch ev := ev.(type) {
	case *voicegateway.ReadyEvent:
		s.handleReady(r, ev)

	case *voicegateway.HelloEvent:
		r.mu.Lock()
		if r.interval <= 0 {
			r.interval = ev.HeartbeatInterval.Duration()
		}
		s.startHeartbeat(r)
		r.mu.Unlock()

	case *voicegateway.SessionDescriptionEvent:
		s.handleSessionDescription(r, ev)

	case *voicegateway.SpeakingEvent:
		r.dir.Add(ev.SSRC, ev.UserID)

		s.Handler.Dispatch(&SpeakingEvent{
			GuildID:  r.session.GuildID,
			UserID:   ev.UserID,
			SSRC:     ev.SSRC,
			Speaking: bool(ev.Speaking),
		})

	case *voicegateway.ClientDisconnectEvent:
		r.dir.removeUser(ev.UserID)
	}
}

// transition moves the state forward for r, unless r is no longer the
// current run.
func (s *Session) transition(r *run, event string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.run.Load() != r || r.ctx.Err() != nil {
		return context.Canceled
	}

	return s.fsm.Event(r.ctx, event)
}

func (s *Session) handleReady(r *run, ev *voicegateway.ReadyEvent) {
	if !r.session.setSSRC(ev.SSRC) {
		wsutil.WSDebug("Voice: Ignoring repeated Ready")
		return
	}

	if err := s.transition(r, evNegotiate); err != nil {
		return
	}

	r.mu.Lock()
	if ev.HeartbeatInterval > 0 {
		r.interval = ev.HeartbeatInterval.Duration()
	}
	r.mu.Unlock()

	remote := Address{
		IP:   voicegateway.EndpointHost(r.session.Endpoint),
		Port: uint16(ev.Port),
	}

	wsutil.WSDebug("Voice: Running IP discovery against", remote)

	conn, err := s.DialUDP(r.ctx, remote.String(), ev.SSRC, s.DiscoveryTimeout)
	if err != nil {
		r.report(errors.Wrap(err, "failed to open voice UDP connection"))
		return
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		conn.Close()
		return
	}
	r.conn = conn
	r.mu.Unlock()

	external := Address{IP: conn.GatewayIP, Port: conn.GatewayPort}
	r.session.setTransport(remote, external)

	err = r.gateway.SelectProtocol(r.ctx, voicegateway.SelectProtocolAddress{
		Address: external.IP,
		Port:    external.Port,
		Mode:    udp.Mode,
	})
	if err != nil {
		r.report(errors.Wrap(err, "failed to select protocol"))
		return
	}

	r.mu.Lock()
	r.discovered = true
	s.startHeartbeat(r)
	r.mu.Unlock()
}

// startHeartbeat starts the heartbeat once discovery is done and the interval
// is known. r.mu must be held.
func (s *Session) startHeartbeat(r *run) {
	if r.stopped || r.heart != nil || !r.discovered || r.interval <= 0 {
		return
	}

	r.heart = heart.NewPacemaker(r.interval, func(ctx context.Context) error {
		if err := r.gateway.Heartbeat(ctx); err != nil {
			return err
		}
		s.Metrics.heartbeat()
		return nil
	})
	r.heart.ErrorLog = func(err error) { s.ErrorLog(err) }
	r.heart.Start()
}

func (s *Session) handleSessionDescription(r *run, ev *voicegateway.SessionDescriptionEvent) {
	if ev.Mode != udp.Mode {
		r.report(errors.Errorf("unsupported encryption mode %q", ev.Mode))
		return
	}

	if !r.session.setSecretKey(ev.SecretKey) {
		wsutil.WSDebug("Voice: Ignoring repeated Session Description")
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.run.Load() != r || r.ctx.Err() != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		r.report(errors.New("session description received before discovery"))
		return
	}

	if err := s.fsm.Event(r.ctx, evActivate); err != nil {
		r.report(errors.Wrap(err, "failed to activate"))
		return
	}

	p := NewPacer(r.session, r.conn, r.gateway, s.Source)
	p.Sealer = s.Sealer
	p.Clock = s.Clock
	p.FrameDuration = s.FrameDuration
	p.FrameSamples = s.FrameSamples
	p.Suppressed = &s.suppressed
	p.Metrics = s.Metrics
	p.ErrorLog = func(err error) { s.ErrorLog(err) }

	r.pacer = p
	s.Metrics.active(1)

	go func() {
		if err := p.Run(r.ctx); err != nil {
			s.ErrorLog(errors.Wrap(err, "audio pacer stopped"))
		}
	}()

	r.report(nil)
}

// handleClose is called once the websocket is gone, whoever closed it.
func (s *Session) handleClose(r *run, code int, reason string) {
	r.report(errors.Errorf("voice gateway closed with code %d: %s", code, reason))

	s.Handler.Dispatch(&SignalingClosedEvent{
		GuildID: r.session.GuildID,
		Code:    code,
		Reason:  reason,
	})
}
