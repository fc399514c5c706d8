// Package voicegateway implements the signaling side of a Discord voice
// connection: a websocket carrying {op, d} JSON messages.
//
// The Gateway only does transport. It decodes inbound messages into typed
// events and hands them to OnEvent; reacting to them is up to the caller.
package voicegateway

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/diamondburned/arivoice/discord"
	"github.com/diamondburned/arivoice/utils/wsutil"
)

// Status is the connection status of the Gateway.
type Status uint32

const (
	Disconnected Status = iota
	Connecting
	Connected
	Ready
	Active
	Closing
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Ready:
		return "READY"
	case Active:
		return "ACTIVE"
	case Closing:
		return "CLOSING"
	default:
		return fmt.Sprintf("Status(%d)", uint32(s))
	}
}

// State contains state information of a voice gateway.
type State struct {
	GuildID   discord.GuildID
	UserID    discord.UserID
	SessionID string
	Token     string
	Endpoint  string
}

// ConnectError is returned by Open when the websocket cannot be established.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (err *ConnectError) Error() string {
	return "failed to connect to voice gateway " + err.Endpoint + ": " + err.Err.Error()
}

func (err *ConnectError) Unwrap() error { return err.Err }

// ChannelClosedWarning is given to ErrorLog when a payload is sent over a
// Gateway that is not open. The payload is dropped.
type ChannelClosedWarning struct {
	Op OPCode
}

func (w ChannelClosedWarning) Error() string {
	return fmt.Sprintf("voice gateway closed, dropped OP %d", w.Op)
}

// IsChannelClosed returns true if err is a ChannelClosedWarning.
func IsChannelClosed(err error) bool {
	var warn ChannelClosedWarning
	return errors.As(err, &warn)
}

// CloseReasonClient is the reason given to AfterClose when Close was called.
const CloseReasonClient = "closed by client"

// Gateway is a single voice signaling connection. A Gateway can be opened once.
type Gateway struct {
	state State

	ws     atomic.Pointer[wsutil.Websocket]
	status atomic.Uint32
	ssrc   atomic.Uint32

	closeOnce sync.Once
	done      chan struct{}

	// NewConn creates the websocket transport. It defaults to a gorilla
	// websocket connection.
	NewConn func() wsutil.Connection
	// Codec encodes and decodes payloads. Defaults to wsutil.DefaultCodec.
	Codec wsutil.Codec
	// Timeout is used for dialing and for sends without a deadline.
	Timeout time.Duration

	// OnEvent is called on the read goroutine for every decoded event, in
	// arrival order. It must not block for long.
	OnEvent func(Event)
	// AfterClose is called exactly once after the connection has ended,
	// whichever side ended it.
	AfterClose func(code int, reason string)
	// ErrorLog receives non-fatal errors, including ChannelClosedWarning.
	ErrorLog func(error)
}

// New creates a new Gateway from the given state. The Gateway is not opened.
func New(state State) *Gateway {
	return &Gateway{
		state: state,
		done:  make(chan struct{}),

		NewConn:    func() wsutil.Connection { return wsutil.NewConn() },
		Codec:      wsutil.DefaultCodec,
		Timeout:    wsutil.WSTimeout,
		OnEvent:    func(Event) {},
		AfterClose: func(int, string) {},
		ErrorLog:   wsutil.WSError,
	}
}

// State returns the current connection status.
func (c *Gateway) State() Status {
	return Status(c.status.Load())
}

// SessionState returns the state the Gateway was created with.
func (c *Gateway) SessionState() State {
	return c.state
}

// SSRC returns the SSRC given in the last Ready event, or 0.
func (c *Gateway) SSRC() uint32 {
	return c.ssrc.Load()
}

// Done is closed once the read loop has exited and AfterClose was called.
func (c *Gateway) Done() <-chan struct{} {
	return c.done
}

// Open connects to the voice gateway and identifies. Any failure to establish
// the websocket is returned as a *ConnectError.
func (c *Gateway) Open(ctx context.Context) error {
	select {
	case <-c.done:
		return errors.New("voice gateway already closed")
	default:
	}

	if !c.status.CompareAndSwap(uint32(Disconnected), uint32(Connecting)) {
		return errors.New("voice gateway already opened")
	}

	wsutil.WSDebug("VoiceGateway: Connecting to", c.state.Endpoint)

	if err := c.dial(ctx); err != nil {
		c.status.Store(uint32(Disconnected))
		return &ConnectError{Endpoint: c.state.Endpoint, Err: err}
	}

	// Closed in between.
	if !c.status.CompareAndSwap(uint32(Connecting), uint32(Connected)) {
		c.ws.Load().Close()
		return &ConnectError{Endpoint: c.state.Endpoint, Err: wsutil.ErrWebsocketClosed}
	}

	wsutil.WSDebug("VoiceGateway: Connected, identifying...")

	if err := c.Identify(ctx); err != nil {
		return errors.Wrap(err, "failed to identify")
	}

	return nil
}

func (c *Gateway) dial(ctx context.Context) error {
	addr, err := EndpointURL(c.state.Endpoint)
	if err != nil {
		return err
	}

	ws := wsutil.NewCustom(c.NewConn(), addr)
	if c.Timeout > 0 {
		ws.Timeout = c.Timeout
	}

	if err := ws.Dial(ctx); err != nil {
		return err
	}

	events := ws.Listen()
	if events == nil {
		return wsutil.ErrWebsocketClosed
	}

	c.ws.Store(ws)
	go c.readLoop(ws, events)

	return nil
}

func (c *Gateway) readLoop(ws *wsutil.Websocket, events <-chan wsutil.Event) {
	var closeEv *wsutil.CloseEvent

	defer func() {
		// Mark our side closed too; this is a no-op if Close did it.
		ws.Close()
		c.finish(closeEv)
	}()

	for ev := range events {
		switch {
		case ev.Close != nil:
			closeEv = ev.Close
			continue
		case ev.Error != nil:
			c.ErrorLog(ev.Error)
			continue
		}

		op, err := wsutil.DecodeOP(ev)
		if err != nil {
			wsutil.WSDebug("VoiceGateway: Dropping malformed payload:", err)
			continue
		}

		e, err := DecodeEvent(c.Codec, op)
		if err != nil {
			if !wsutil.IsUnknownOP(err) {
				wsutil.WSDebug("VoiceGateway: Dropping event:", err)
			}
			continue
		}

		c.track(e)
		c.OnEvent(e)
	}
}

// track moves the status forward on the events that matter to it.
func (c *Gateway) track(e Event) {
	switch e := e.(type) {
	case *ReadyEvent:
		c.ssrc.Store(e.SSRC)
		c.status.CompareAndSwap(uint32(Connected), uint32(Ready))
	case *SessionDescriptionEvent:
		c.status.CompareAndSwap(uint32(Ready), uint32(Active))
	}
}

func (c *Gateway) finish(ev *wsutil.CloseEvent) {
	code, reason := wsutil.CloseAbnormal, ""

	switch {
	case Status(c.status.Load()) == Closing:
		code, reason = wsutil.CloseNormal, CloseReasonClient
	case ev != nil:
		code, reason = ev.Code, ev.Reason
	}

	c.status.Store(uint32(Disconnected))

	c.closeOnce.Do(func() {
		wsutil.WSDebug("VoiceGateway: Closed with code", code, reason)
		c.AfterClose(code, reason)
		close(c.done)
	})
}

// Close closes the websocket. It does not wait for AfterClose; use Done for
// that. Calling Close on a closed Gateway does nothing.
func (c *Gateway) Close() error {
	for {
		s := c.status.Load()
		switch Status(s) {
		case Disconnected, Closing:
			return nil
		}

		if c.status.CompareAndSwap(s, uint32(Closing)) {
			break
		}
	}

	wsutil.WSDebug("VoiceGateway: Closing websocket...")

	ws := c.ws.Load()
	if ws == nil {
		// Open is still dialing and will see Closing.
		return nil
	}

	err := ws.Close()
	if err != nil && !errors.Is(err, wsutil.ErrWebsocketClosed) && !errors.Is(err, net.ErrClosed) {
		return errors.Wrap(err, "failed to close websocket")
	}

	return nil
}

// Send sends a payload to the Gateway. Sending over a closed Gateway is not an
// error: the payload is dropped and a ChannelClosedWarning goes to ErrorLog.
func (c *Gateway) Send(ctx context.Context, code OPCode, v interface{}) error {
	ws := c.ws.Load()

	switch Status(c.status.Load()) {
	case Disconnected, Closing:
		ws = nil
	}

	if ws == nil {
		c.ErrorLog(ChannelClosedWarning{Op: code})
		return nil
	}

	b, err := wsutil.NewOP(c.Codec, code, v)
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok && c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	if err := ws.SendCtx(ctx, b); err != nil {
		if errors.Is(err, wsutil.ErrWebsocketClosed) {
			c.ErrorLog(ChannelClosedWarning{Op: code})
			return nil
		}
		return errors.Wrapf(err, "failed to send OP %d", code)
	}

	return nil
}
