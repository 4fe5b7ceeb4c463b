package presence

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/syncclient"
)

func startRoomServer(t *testing.T, auth chan<- string) string {
	t.Helper()
	app := fiber.New()
	app.Use("/stream/ws", func(c *fiber.Ctx) error {
		auth <- c.Get(fiber.HeaderAuthorization)
		return c.Next()
	})
	app.Get("/stream/ws", websocket.New(func(c *websocket.Conn) {
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			env, err := wire.DecodeEnvelope(raw)
			if err != nil || env.Event != wire.EventJoin {
				continue
			}
			if env.GroupID() == "denied" {
				refusal, _ := wire.Encode(wire.EventError, wire.Refusal{GroupID: "denied", Reason: "not_member"})
				_ = c.WriteMessage(websocket.TextMessage, refusal)
				continue
			}
			ack, _ := wire.Encode(wire.EventJoined, wire.Join{GroupID: env.GroupID()})
			if err := c.WriteMessage(websocket.TextMessage, ack); err != nil {
				return
			}
			reply, _ := wire.Encode(wire.EventLocationUpdate, wire.LocationUpdate{
				OwnerID: "u2", GroupID: env.GroupID(), Lat: 41, Lng: 29, Timestamp: 7,
			})
			if err := c.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "ws://" + ln.Addr().String() + "/stream/ws"
}

func TestWebSocketDialerJoinAndReceive(t *testing.T) {
	auth := make(chan string, 1)
	url := startRoomServer(t, auth)

	d := &WebSocketDialer{URL: url, Tokens: syncclient.StaticToken("tok")}
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", <-auth)

	require.NoError(t, conn.Join(context.Background(), "g1"))

	select {
	case env := <-conn.Events():
		assert.Equal(t, wire.EventLocationUpdate, env.Event)
		assert.Equal(t, "g1", env.GroupID())
	case <-time.After(2 * time.Second):
		t.Fatal("expected location update")
	}

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-conn.Events():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, conn.Close())
}

func TestWebSocketJoinRefusedByRelay(t *testing.T) {
	auth := make(chan string, 1)
	url := startRoomServer(t, auth)

	conn, err := (&WebSocketDialer{URL: url}).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	<-auth

	err = conn.Join(context.Background(), "denied")
	require.ErrorIs(t, err, ErrJoinRefused)
	assert.Contains(t, err.Error(), "not_member")

	select {
	case env := <-conn.Events():
		t.Fatalf("refusal must not reach the event stream: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocketJoinHonoursContext(t *testing.T) {
	auth := make(chan string, 1)
	app := fiber.New()
	app.Use("/stream/ws", func(c *fiber.Ctx) error {
		auth <- c.Get(fiber.HeaderAuthorization)
		return c.Next()
	})
	app.Get("/stream/ws", websocket.New(func(c *websocket.Conn) {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	conn, err := (&WebSocketDialer{URL: "ws://" + ln.Addr().String() + "/stream/ws"}).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	<-auth

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, conn.Join(ctx, "g1"), context.DeadlineExceeded)
}

func TestWebSocketDialerRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	d := &WebSocketDialer{URL: "ws://" + addr + "/stream/ws"}
	_, err = d.Dial(context.Background())
	assert.Error(t, err)
}
