package voice

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"

	"github.com/diamondburned/arivoice/discord"
	"github.com/diamondburned/arivoice/internal/testenv"
	"github.com/diamondburned/arivoice/voice/udp"
	"github.com/diamondburned/arivoice/voice/voicegateway"
)

// eventLog records every event dispatched by a session.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func recordEvents(s *Session) *eventLog {
	l := &eventLog{ch: make(chan Event, 64)}
	s.Handler.HandleSynchronousCallback(func(ev Event) {
		l.mu.Lock()
		l.events = append(l.events, ev)
		l.mu.Unlock()

		select {
		case l.ch <- ev:
		default:
		}
	})
	return l
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) count(match func(Event) bool) int {
	var n int
	for _, ev := range l.all() {
		if match(ev) {
			n++
		}
	}
	return n
}

func isDisconnected(ev Event) bool {
	_, ok := ev.(*DisconnectedEvent)
	return ok
}

func testParams(srv *testenv.VoiceServer) Params {
	return Params{
		GuildID:   1,
		UserID:    2,
		SessionID: "session",
		Token:     "token",
		Endpoint:  srv.Endpoint(),
	}
}

func newTestSession(t *testing.T, src AudioSource) *Session {
	t.Helper()

	s := NewSession(src)
	s.ErrorLog = func(err error) { t.Log("session:", err) }
	s.Registry = NewRegistry()

	t.Cleanup(func() { s.Disconnect(LeftChannel) })

	return s
}

func startSession(t *testing.T, s *Session, srv *testenv.VoiceServer) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Start(ctx, testParams(srv)); err != nil {
		t.Fatal("failed to start:", err)
	}
}

func loopingSource(frame []byte) AudioSource {
	return AudioSourceFunc(func() []byte { return frame })
}

func TestSessionStart(t *testing.T) {
	srv := testenv.NewVoiceServer(t)
	s := newTestSession(t, loopingSource(opus))

	startSession(t, s, srv)

	if state := s.State(); state != Active {
		t.Fatal("expected ACTIVE, got", state)
	}

	vs := s.VoiceSession()

	if ssrc, ok := vs.SSRC(); !ok || ssrc != srv.SSRC {
		t.Fatal("unexpected SSRC:", ssrc, ok)
	}
	if key := vs.SecretKey(); key == nil || *key != srv.Key {
		t.Fatal("secret key not stored")
	}
	if addr := vs.RemoteAddr(); addr == nil || int(addr.Port) != srv.UDPPort() {
		t.Fatal("unexpected remote address:", spew.Sdump(addr))
	}

	external := vs.ExternalAddr()
	if external == nil || external.IP != "127.0.0.1" || external.Port == 0 {
		t.Fatal("unexpected external address:", spew.Sdump(external))
	}

	// The discovered address is what's sent in Select Protocol.
	var selected voicegateway.SelectProtocolData
	op := srv.WaitOP(t, voicegateway.SelectProtocolOP, 5*time.Second)
	if err := json.Unmarshal(op.Data, &selected); err != nil {
		t.Fatal("failed to decode select protocol:", err)
	}
	if selected.Data.Address != external.IP || selected.Data.Port != external.Port {
		t.Fatal("unexpected select protocol:", spew.Sdump(selected))
	}
	if selected.Data.Mode != udp.Mode {
		t.Fatal("unexpected mode:", selected.Data.Mode)
	}

	// The first heartbeat goes out right away, racing with the first frame.
	var heartbeat bool
	var speaking *voicegateway.SpeakingData

	timeout := time.After(5 * time.Second)

	for !heartbeat || speaking == nil {
		select {
		case op := <-srv.Ops():
			switch op.Code {
			case voicegateway.HeartbeatOP:
				heartbeat = true
			case voicegateway.SpeakingOP:
				speaking = &voicegateway.SpeakingData{}
				if err := json.Unmarshal(op.Data, speaking); err != nil {
					t.Fatal("failed to decode speaking:", err)
				}
			}
		case <-timeout:
			t.Fatal("timed out waiting for heartbeat and speaking:", heartbeat, speaking != nil)
		}
	}

	if !speaking.Speaking || speaking.SSRC != srv.SSRC {
		t.Fatal("unexpected speaking:", spew.Sdump(speaking))
	}

	// Read two datagrams and check that they're sealed with the key and
	// follow each other.
	var frames [2]*udp.Frame
	for i := range frames {
		select {
		case b := <-srv.Frames():
			f, err := udp.ParseFrame(b)
			if err != nil {
				t.Fatal("failed to parse datagram:", err)
			}

			header := f.Header()
			payload, ok := udp.OpenXSalsa20Poly1305(nil, &header, f.Opus, &srv.Key)
			if !ok {
				t.Fatal("failed to open datagram")
			}
			if string(payload) != string(opus) {
				t.Fatalf("unexpected payload % x", payload)
			}

			frames[i] = f
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for audio")
		}
	}

	if frames[0].SSRC != srv.SSRC {
		t.Fatal("unexpected SSRC in datagram:", frames[0].SSRC)
	}
	if frames[1].Sequence != frames[0].Sequence+1 {
		t.Fatal("sequence did not advance:", frames[0].Sequence, frames[1].Sequence)
	}
	if frames[1].Timestamp != frames[0].Timestamp+FrameSamples {
		t.Fatal("timestamp did not advance by a frame:", frames[0].Timestamp, frames[1].Timestamp)
	}

	if got, ok := s.Registry.Get(1); !ok || got != s {
		t.Fatal("active session is not registered")
	}
}

func TestSessionStartTwice(t *testing.T) {
	srv := testenv.NewVoiceServer(t)
	s := newTestSession(t, loopingSource(nil))

	startSession(t, s, srv)

	if err := s.Start(context.Background(), testParams(srv)); !errors.Is(err, ErrAlreadyActive) {
		t.Fatal("expected ErrAlreadyActive, got", err)
	}

	// Another session can't take over the guild.
	other := newTestSession(t, loopingSource(nil))
	other.Registry = s.Registry

	if err := other.Start(context.Background(), testParams(srv)); !errors.Is(err, ErrAlreadyActive) {
		t.Fatal("expected ErrAlreadyActive for the same guild, got", err)
	}
}

func TestSessionDisconnect(t *testing.T) {
	srv := testenv.NewVoiceServer(t)
	s := newTestSession(t, loopingSource(opus))
	events := recordEvents(s)

	// The application hears about the disconnect before anything is torn
	// down.
	var registered, disconnecting bool
	s.Handler.HandleSynchronousCallback(func(ev Event) {
		if _, ok := ev.(*DisconnectedEvent); ok {
			_, registered = s.Registry.Get(1)
			disconnecting = s.State() == Disconnecting
		}
	})

	startSession(t, s, srv)

	if err := s.Disconnect(LeftChannel); err != nil {
		t.Fatal("failed to disconnect:", err)
	}

	if state := s.State(); state != Closed {
		t.Fatal("expected CLOSED, got", state)
	}
	if !registered || !disconnecting {
		t.Fatal("disconnect was not dispatched first:", registered, disconnecting)
	}
	if s.Registry.Len() != 0 {
		t.Fatal("session still registered")
	}

	if err := s.Disconnect(LeftChannel); err != nil {
		t.Fatal("second disconnect failed:", err)
	}
	if state := s.State(); state != Closed {
		t.Fatal("expected CLOSED after second disconnect, got", state)
	}

	if n := events.count(isDisconnected); n != 1 {
		t.Fatal("expected 1 disconnect event, got", n)
	}

	var ev *DisconnectedEvent
	for _, e := range events.all() {
		if d, ok := e.(*DisconnectedEvent); ok {
			ev = d
		}
	}
	if ev.Reason != LeftChannel || ev.GuildID != 1 {
		t.Fatal("unexpected disconnect event:", spew.Sdump(ev))
	}

	// Every transition was announced, in order.
	var states []State
	for _, e := range events.all() {
		if c, ok := e.(*StateChangedEvent); ok {
			states = append(states, c.To)
		}
	}

	expect := []State{Connecting, Negotiating, Active, Disconnecting, Closed}
	if len(states) != len(expect) {
		t.Fatal("unexpected transitions:", states)
	}
	for i := range expect {
		if states[i] != expect[i] {
			t.Fatal("unexpected transitions:", states)
		}
	}

	// The session can be started again once closed.
	startSession(t, s, srv)

	if state := s.State(); state != Active {
		t.Fatal("expected ACTIVE after restart, got", state)
	}
}

func TestSessionDisconnectUnstarted(t *testing.T) {
	s := NewSession(loopingSource(nil))

	if err := s.Disconnect(LeftChannel); err != nil {
		t.Fatal("disconnecting an unstarted session failed:", err)
	}
	if state := s.State(); state != Starting {
		t.Fatal("unexpected state:", state)
	}
}

func TestSessionConnectError(t *testing.T) {
	s := newTestSession(t, loopingSource(nil))
	s.WSTimeout = time.Second

	p := Params{GuildID: 1, UserID: 2, SessionID: "a", Token: "b", Endpoint: "ws://127.0.0.1:9"}

	err := s.Start(context.Background(), p)

	var connErr *voicegateway.ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectError, got %T: %v", err, err)
	}

	if state := s.State(); state != Closed {
		t.Fatal("expected CLOSED, got", state)
	}
	if s.Registry.Len() != 0 {
		t.Fatal("failed session left registered")
	}
}

func TestSessionDiscoveryTimeout(t *testing.T) {
	srv := testenv.NewVoiceServer(t)
	srv.DropDiscovery = true

	var pulled bool
	s := newTestSession(t, AudioSourceFunc(func() []byte { pulled = true; return nil }))
	s.DiscoveryTimeout = 100 * time.Millisecond

	err := s.Start(context.Background(), testParams(srv))
	if !errors.Is(err, udp.ErrDiscoveryTimeout) {
		t.Fatal("expected discovery timeout, got", err)
	}

	if state := s.State(); state != Closed {
		t.Fatal("expected CLOSED, got", state)
	}
	if pulled {
		t.Fatal("audio pulled without a session")
	}
}

func TestSessionNoDescription(t *testing.T) {
	srv := testenv.NewVoiceServer(t)
	srv.HoldSessionDescription = true

	var mu sync.Mutex
	var pulled bool

	s := newTestSession(t, AudioSourceFunc(func() []byte {
		mu.Lock()
		pulled = true
		mu.Unlock()
		return opus
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := s.Start(ctx, testParams(srv)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected deadline exceeded, got", err)
	}

	if state := s.State(); state != Closed {
		t.Fatal("expected CLOSED, got", state)
	}

	mu.Lock()
	defer mu.Unlock()

	if pulled {
		t.Fatal("pacer ran without a secret key")
	}
}

func TestSessionSpeakingDirectory(t *testing.T) {
	srv := testenv.NewVoiceServer(t)
	s := newTestSession(t, loopingSource(nil))
	events := recordEvents(s)

	startSession(t, s, srv)

	err := srv.Send(voicegateway.SpeakingOP, map[string]interface{}{
		"user_id":  "1234",
		"ssrc":     777,
		"speaking": true,
	})
	if err != nil {
		t.Fatal("failed to send speaking:", err)
	}

	var speaking *SpeakingEvent
	timeout := time.After(5 * time.Second)

	for speaking == nil {
		select {
		case ev := <-events.ch:
			speaking, _ = ev.(*SpeakingEvent)
		case <-timeout:
			t.Fatal("timed out waiting for speaking event")
		}
	}

	expect := SpeakingEvent{GuildID: 1, UserID: 1234, SSRC: 777, Speaking: true}
	if *speaking != expect {
		t.Fatal("unexpected speaking event:", spew.Sdump(speaking))
	}

	if id, ok := s.UserBySSRC(777); !ok || id != discord.UserID(1234) {
		t.Fatal("SSRC not in directory:", id, ok)
	}

	// Our own speaking state is untouched.
	if s.VoiceSession().Speaking() {
		t.Fatal("remote speaking changed our speaking state")
	}

	srv.Send(voicegateway.ClientDisconnectOP, map[string]string{"user_id": "1234"})

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := s.UserBySSRC(777); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("user not removed from directory")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionSignalingClosed(t *testing.T) {
	srv := testenv.NewVoiceServer(t)
	s := newTestSession(t, loopingSource(nil))
	events := recordEvents(s)

	startSession(t, s, srv)

	srv.CloseClient(4014, "disconnected")

	var closed *SignalingClosedEvent
	timeout := time.After(10 * time.Second)

	for closed == nil {
		select {
		case ev := <-events.ch:
			closed, _ = ev.(*SignalingClosedEvent)
		case <-timeout:
			t.Fatal("timed out waiting for close event")
		}
	}

	if closed.Code != 4014 || closed.Reason != "disconnected" {
		t.Fatal("unexpected close event:", spew.Sdump(closed))
	}

	// Closing is informational only.
	if state := s.State(); state != Active {
		t.Fatal("expected ACTIVE, got", state)
	}

	if err := s.Disconnect(ConnectionClosed); err != nil {
		t.Fatal("failed to disconnect:", err)
	}
	if state := s.State(); state != Closed {
		t.Fatal("expected CLOSED, got", state)
	}
}

func TestSessionAudioSuppressed(t *testing.T) {
	srv := testenv.NewVoiceServer(t)
	s := newTestSession(t, loopingSource(opus))
	s.SetAudioSuppressed(true)

	startSession(t, s, srv)

	select {
	case <-srv.Frames():
		t.Fatal("audio sent while suppressed")
	case <-time.After(200 * time.Millisecond):
	}

	s.SetAudioSuppressed(false)

	select {
	case <-srv.Frames():
	case <-time.After(5 * time.Second):
		t.Fatal("audio not sent after unsuppressing")
	}
}
