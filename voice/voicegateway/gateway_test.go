package voicegateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/atomic"

	"github.com/diamondburned/arivoice/discord"
	"github.com/diamondburned/arivoice/internal/testenv"
	"github.com/diamondburned/arivoice/utils/wsutil"
)

func testState(endpoint string) State {
	return State{
		GuildID:   1,
		UserID:    2,
		SessionID: "session",
		Token:     "token",
		Endpoint:  endpoint,
	}
}

type closeResult struct {
	code   int
	reason string
}

// openGateway opens a Gateway to srv and returns channels of its events and
// close callbacks.
func openGateway(t *testing.T, srv *testenv.VoiceServer) (*Gateway, <-chan Event, <-chan closeResult) {
	t.Helper()

	events := make(chan Event, 16)
	closes := make(chan closeResult, 2)

	g := New(testState(srv.Endpoint()))
	g.OnEvent = func(ev Event) { events <- ev }
	g.AfterClose = func(code int, reason string) { closes <- closeResult{code, reason} }
	g.ErrorLog = func(err error) { t.Log("gateway error:", err) }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	if err := g.Open(ctx); err != nil {
		t.Fatal("failed to open:", err)
	}
	t.Cleanup(func() { g.Close() })

	return g, events, closes
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()

	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestGatewayHandshake(t *testing.T) {
	srv := testenv.NewVoiceServer(t)
	g, events, _ := openGateway(t, srv)

	op := srv.WaitOP(t, IdentifyOP, 5*time.Second)

	var identify IdentifyData
	if err := json.Unmarshal(op.Data, &identify); err != nil {
		t.Fatal("failed to decode identify:", err)
	}

	expect := IdentifyData{
		GuildID:   1,
		UserID:    2,
		SessionID: "session",
		Token:     "token",
	}
	if identify != expect {
		t.Fatal("unexpected identify:", spew.Sdump(identify))
	}

	ready, ok := waitEvent(t, events).(*ReadyEvent)
	if !ok {
		t.Fatal("first event is not Ready")
	}
	if ready.SSRC != srv.SSRC || ready.Port != srv.UDPPort() {
		t.Fatal("unexpected ready:", spew.Sdump(ready))
	}
	if ready.HeartbeatInterval.Duration() != time.Hour {
		t.Fatal("unexpected heartbeat interval:", ready.HeartbeatInterval)
	}

	if s := g.State(); s != Ready {
		t.Fatal("expected READY, got", s)
	}
	if g.SSRC() != srv.SSRC {
		t.Fatal("SSRC not tracked")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := SelectProtocolAddress{Address: "127.0.0.1", Port: 4000, Mode: "xsalsa20_poly1305"}
	if err := g.SelectProtocol(ctx, addr); err != nil {
		t.Fatal("failed to select protocol:", err)
	}

	var selected SelectProtocolData
	op = srv.WaitOP(t, SelectProtocolOP, 5*time.Second)
	if err := json.Unmarshal(op.Data, &selected); err != nil {
		t.Fatal("failed to decode select protocol:", err)
	}
	if selected.Protocol != "udp" || selected.Data != addr {
		t.Fatal("unexpected select protocol:", spew.Sdump(selected))
	}

	desc, ok := waitEvent(t, events).(*SessionDescriptionEvent)
	if !ok {
		t.Fatal("second event is not Session Description")
	}
	if desc.SecretKey != srv.Key || desc.Mode != srv.Mode {
		t.Fatal("unexpected session description:", spew.Sdump(desc))
	}

	if s := g.State(); s != Active {
		t.Fatal("expected ACTIVE, got", s)
	}
}

func TestGatewaySpeaking(t *testing.T) {
	srv := testenv.NewVoiceServer(t)
	g, events, _ := openGateway(t, srv)

	waitEvent(t, events) // Ready

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.Speaking(ctx, true); err != nil {
		t.Fatal("failed to send speaking:", err)
	}

	var speaking SpeakingData
	op := srv.WaitOP(t, SpeakingOP, 5*time.Second)
	if err := json.Unmarshal(op.Data, &speaking); err != nil {
		t.Fatal("failed to decode speaking:", err)
	}

	if speaking != (SpeakingData{Speaking: true, SSRC: srv.SSRC}) {
		t.Fatal("unexpected speaking:", spew.Sdump(speaking))
	}

	// Both the boolean and the bitmask forms are understood.
	for _, flag := range []interface{}{true, 1} {
		err := srv.Send(SpeakingOP, map[string]interface{}{
			"user_id":  "42",
			"ssrc":     99,
			"speaking": flag,
		})
		if err != nil {
			t.Fatal("failed to send speaking:", err)
		}

		ev, ok := waitEvent(t, events).(*SpeakingEvent)
		if !ok {
			t.Fatal("event is not Speaking")
		}

		if ev.UserID != discord.UserID(42) || ev.SSRC != 99 || !ev.Speaking {
			t.Fatal("unexpected speaking event:", spew.Sdump(ev))
		}
	}
}

func TestGatewayHeartbeat(t *testing.T) {
	srv := testenv.NewVoiceServer(t)
	g, events, _ := openGateway(t, srv)

	waitEvent(t, events) // Ready

	before := discord.UnixMillis(time.Now())

	if err := g.Heartbeat(context.Background()); err != nil {
		t.Fatal("failed to heartbeat:", err)
	}

	var nonce int64
	op := srv.WaitOP(t, HeartbeatOP, 5*time.Second)
	if err := json.Unmarshal(op.Data, &nonce); err != nil {
		t.Fatal("failed to decode heartbeat:", err)
	}

	if nonce < before || nonce > discord.UnixMillis(time.Now()) {
		t.Fatal("heartbeat is not the current time in milliseconds:", nonce)
	}

	if _, ok := waitEvent(t, events).(*HeartbeatACKEvent); !ok {
		t.Fatal("expected heartbeat ACK")
	}
}

func TestGatewayIgnoresUnknown(t *testing.T) {
	srv := testenv.NewVoiceServer(t)
	_, events, _ := openGateway(t, srv)

	waitEvent(t, events) // Ready

	// Unknown OP, then a known one with a malformed payload, then a valid one.
	srv.Send(42, map[string]int{"x": 1})
	srv.Send(SpeakingOP, "garbage")
	srv.Send(ClientDisconnectOP, map[string]string{"user_id": "7"})

	ev, ok := waitEvent(t, events).(*ClientDisconnectEvent)
	if !ok {
		t.Fatal("unexpected event:", spew.Sdump(ev))
	}
	if ev.UserID != 7 {
		t.Fatal("unexpected user ID:", ev.UserID)
	}
}

func TestGatewayRemoteClose(t *testing.T) {
	srv := testenv.NewVoiceServer(t)
	g, events, closes := openGateway(t, srv)

	waitEvent(t, events) // Ready

	srv.CloseClient(4014, "disconnected")

	select {
	case res := <-closes:
		if res.code != 4014 || res.reason != "disconnected" {
			t.Fatal("unexpected close:", res)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("AfterClose was not called")
	}

	<-g.Done()

	if s := g.State(); s != Disconnected {
		t.Fatal("expected DISCONNECTED, got", s)
	}

	// Closing afterwards does nothing and fires nothing.
	if err := g.Close(); err != nil {
		t.Fatal("close after remote close failed:", err)
	}

	select {
	case res := <-closes:
		t.Fatal("AfterClose called twice:", res)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGatewayClose(t *testing.T) {
	srv := testenv.NewVoiceServer(t)
	g, events, closes := openGateway(t, srv)

	waitEvent(t, events) // Ready

	if err := g.Close(); err != nil {
		t.Fatal("failed to close:", err)
	}
	if err := g.Close(); err != nil {
		t.Fatal("second close failed:", err)
	}

	select {
	case res := <-closes:
		if res.code != wsutil.CloseNormal || res.reason != CloseReasonClient {
			t.Fatal("unexpected close:", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AfterClose was not called")
	}

	if err := g.Open(context.Background()); err == nil {
		t.Fatal("reopening a closed gateway succeeded")
	}
}

func TestGatewaySendClosed(t *testing.T) {
	var warned atomic.Int32

	g := New(testState("ws://127.0.0.1:1"))
	g.ErrorLog = func(err error) {
		if !IsChannelClosed(err) {
			t.Error("unexpected error:", err)
		}
		warned.Inc()
	}

	// Never opened.
	if err := g.Speaking(context.Background(), true); err != nil {
		t.Fatal("send on unopened gateway returned error:", err)
	}

	srv := testenv.NewVoiceServer(t)
	g = New(testState(srv.Endpoint()))
	g.ErrorLog = func(err error) {
		if IsChannelClosed(err) {
			warned.Inc()
		}
	}

	if err := g.Open(context.Background()); err != nil {
		t.Fatal("failed to open:", err)
	}
	g.Close()

	if err := g.Heartbeat(context.Background()); err != nil {
		t.Fatal("send on closed gateway returned error:", err)
	}

	if n := warned.Load(); n != 2 {
		t.Fatal("expected 2 closed channel warnings, got", n)
	}
}

func TestGatewayConnectError(t *testing.T) {
	// Nothing listens on the discard port.
	g := New(testState("ws://127.0.0.1:9"))
	g.Timeout = time.Second

	err := g.Open(context.Background())

	connErr, ok := err.(*ConnectError)
	if !ok {
		t.Fatalf("expected *ConnectError, got %T: %v", err, err)
	}
	if connErr.Endpoint != "ws://127.0.0.1:9" {
		t.Fatal("unexpected endpoint:", connErr.Endpoint)
	}

	if s := g.State(); s != Disconnected {
		t.Fatal("expected DISCONNECTED, got", s)
	}
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		in, url, host string
	}{
		{"us-east1.discord.media:80", "wss://us-east1.discord.media/?v=" + Version, "us-east1.discord.media"},
		{"us-east1.discord.media", "wss://us-east1.discord.media/?v=" + Version, "us-east1.discord.media"},
		{"ws://127.0.0.1:4000", "ws://127.0.0.1:4000/?v=" + Version, "127.0.0.1"},
		{"wss://example.com:443/voice", "wss://example.com:443/voice?v=" + Version, "example.com"},
	}

	for _, test := range tests {
		u, err := EndpointURL(test.in)
		if err != nil {
			t.Fatal("failed to build URL:", err)
		}
		if u != test.url {
			t.Errorf("EndpointURL(%q) = %q, expected %q", test.in, u, test.url)
		}
		if h := EndpointHost(test.in); h != test.host {
			t.Errorf("EndpointHost(%q) = %q, expected %q", test.in, h, test.host)
		}
	}

	if _, err := EndpointURL(""); err == nil {
		t.Fatal("empty endpoint accepted")
	}
}
