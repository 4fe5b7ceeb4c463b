package stream

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/auth"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/geo"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 70 * time.Second
	pingInterval = 30 * time.Second
	joinTimeout  = 5 * time.Second

	reasonNotMember   = "not_member"
	reasonUnavailable = "unavailable"
)

// Authorizer decides whether a user may join a group room.
type Authorizer interface {
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

func RegisterRoutes(r fiber.Router, hub *Hub, members Authorizer, authMiddleware fiber.Handler) {
	r.Get("/ws", authMiddleware, func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals(auth.LocalUserID).(string)
		serve(hub, members, c, userID)
	}))
}

func serve(hub *Hub, members Authorizer, c *websocket.Conn, userID string) {
	client := hub.Register(userID)
	defer hub.Unregister(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-client.Send:
				if !ok {
					return
				}
				_ = c.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ticker.C:
				if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	_ = c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			break
		}
		_ = c.SetReadDeadline(time.Now().Add(pongWait))

		env, err := wire.DecodeEnvelope(raw)
		if err != nil {
			hub.logger.Debug("dropping malformed frame", "user", userID, "err", err)
			continue
		}
		handleFrame(hub, members, client, env)
	}

	hub.Unregister(client)
	<-done
}

func handleFrame(hub *Hub, members Authorizer, client *Client, env wire.Envelope) {
	switch env.Event {
	case wire.EventJoin:
		var join wire.Join
		if err := env.Decode(&join); err != nil || join.GroupID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
		ok, err := members.IsMember(ctx, join.GroupID, client.UserID)
		cancel()
		if err != nil {
			hub.logger.Warn("membership check failed", "group", join.GroupID, "user", client.UserID, "err", err)
			_ = hub.Reply(client, wire.EventError, wire.Refusal{GroupID: join.GroupID, Reason: reasonUnavailable})
			return
		}
		if !ok {
			hub.logger.Info("join refused", "group", join.GroupID, "user", client.UserID)
			_ = hub.Reply(client, wire.EventError, wire.Refusal{GroupID: join.GroupID, Reason: reasonNotMember})
			return
		}
		hub.Join(client, join.GroupID)
		_ = hub.Reply(client, wire.EventJoined, wire.Join{GroupID: join.GroupID})

	case wire.EventLeave:
		var leave wire.Join
		if err := env.Decode(&leave); err == nil {
			hub.Leave(client, leave.GroupID)
		}

	case wire.EventLocationUpdate:
		var upd wire.LocationUpdate
		if err := env.Decode(&upd); err != nil {
			return
		}
		if upd.GroupID == "" || hub.Group(client) != upd.GroupID {
			return
		}
		if !geo.ValidCoord(upd.Lat, upd.Lng) {
			hub.logger.Debug("dropping out of range update", "group", upd.GroupID, "user", client.UserID)
			return
		}
		upd.OwnerID = client.UserID
		raw, err := wire.Encode(wire.EventLocationUpdate, upd)
		if err != nil {
			return
		}
		_ = hub.Broadcast(upd.GroupID, raw, client)
	}
}
