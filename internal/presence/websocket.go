package presence

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/syncclient"
)

const (
	writeWait        = 10 * time.Second
	readWait         = 70 * time.Second
	handshakeTimeout = 10 * time.Second
	joinWait         = 10 * time.Second
)

// WebSocketDialer connects to the relay's /stream/ws endpoint.
type WebSocketDialer struct {
	URL    string
	Tokens syncclient.TokenSource
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if d.Tokens != nil {
		token, err := d.Tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("presence: token: %w", err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("presence: dial %s: status %d: %w", d.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("presence: dial %s: %w", d.URL, err)
	}

	c := &wsConn{
		ws:     ws,
		events: make(chan wire.Envelope, 64),
		acks:   make(chan wire.Envelope, 1),
		closed: make(chan struct{}),
		gone:   make(chan struct{}),
	}
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	events  chan wire.Envelope
	acks    chan wire.Envelope
	closed  chan struct{}
	gone    chan struct{}
	once    sync.Once
}

// Join asks the relay for the room and waits for its reply.
func (c *wsConn) Join(ctx context.Context, groupID string) error {
	if err := c.Send(wire.EventJoin, wire.Join{GroupID: groupID}); err != nil {
		return err
	}
	timer := time.NewTimer(joinWait)
	defer timer.Stop()
	for {
		select {
		case env := <-c.acks:
			if env.GroupID() != groupID {
				continue
			}
			if env.Event == wire.EventJoined {
				return nil
			}
			var r wire.Refusal
			_ = env.Decode(&r)
			return fmt.Errorf("%w: %s", ErrJoinRefused, r.Reason)
		case <-timer.C:
			return fmt.Errorf("presence: join %s: no reply", groupID)
		case <-c.gone:
			return ErrTransportDropped
		case <-c.closed:
			return ErrTransportDropped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *wsConn) Leave(groupID string) error {
	return c.Send(wire.EventLeave, wire.Join{GroupID: groupID})
}

func (c *wsConn) Send(event string, payload any) error {
	data, err := wire.Encode(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Events() <-chan wire.Envelope {
	return c.events
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) readLoop() {
	defer close(c.gone)
	defer close(c.events)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
		env, err := wire.DecodeEnvelope(raw)
		if err != nil {
			continue
		}
		if env.Event == wire.EventJoined || env.Event == wire.EventError {
			select {
			case c.acks <- env:
			default:
			}
			continue
		}
		select {
		case c.events <- env:
		case <-c.closed:
			return
		}
	}
}
