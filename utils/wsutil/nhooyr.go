package wsutil

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"nhooyr.io/websocket"
)

// NhooyrConn is a Connection backed by nhooyr.io/websocket. It behaves like
// Conn and can be used in its place.
type NhooyrConn struct {
	mutex sync.Mutex

	Conn *websocket.Conn

	// Options is used for every Dial. A nil value uses the defaults.
	Options *websocket.DialOptions
	// ReadLimit is the maximum size of a single message. Zero keeps the
	// driver's default.
	ReadLimit int64

	events chan Event
	cancel context.CancelFunc
}

var _ Connection = (*NhooyrConn)(nil)

// NewNhooyrConn creates a new undialed nhooyr connection.
func NewNhooyrConn() *NhooyrConn {
	return &NhooyrConn{}
}

func (c *NhooyrConn) Dial(ctx context.Context, addr string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	conn, _, err := websocket.Dial(ctx, addr, c.Options)
	if err != nil {
		return errors.Wrap(err, "failed to dial WS")
	}

	if c.ReadLimit > 0 {
		conn.SetReadLimit(c.ReadLimit)
	}

	readCtx, cancel := context.WithCancel(context.Background())

	c.Conn = conn
	c.cancel = cancel
	c.events = make(chan Event, WSBuffer)

	go startNhooyrReadLoop(readCtx, conn, c.events)

	return nil
}

func (c *NhooyrConn) Listen() <-chan Event {
	return c.events
}

func (c *NhooyrConn) Send(ctx context.Context, b []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.Conn == nil {
		return ErrWebsocketClosed
	}

	return c.Conn.Write(ctx, websocket.MessageText, b)
}

func (c *NhooyrConn) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.Conn == nil {
		return ErrWebsocketClosed
	}

	WSDebug("NhooyrConn: Closing.")

	err := c.Conn.Close(websocket.StatusNormalClosure, "")
	c.cancel()

	for range c.events {
	}

	c.Conn = nil

	return err
}

func startNhooyrReadLoop(ctx context.Context, conn *websocket.Conn, eventCh chan<- Event) {
	defer close(eventCh)

	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			eventCh <- nhooyrCloseEvent(err)
			return
		}

		if len(b) == 0 {
			continue
		}

		eventCh <- Event{Data: b}
	}
}

func nhooyrCloseEvent(err error) Event {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return Event{Close: &CloseEvent{Code: int(closeErr.Code), Reason: closeErr.Reason}}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || isClosedConnErr(err) {
		return Event{Close: &CloseEvent{Code: CloseAbnormal, Err: err}}
	}

	return Event{Error: errors.Wrap(err, "WS error")}
}
