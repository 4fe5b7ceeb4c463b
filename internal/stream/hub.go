// Package stream relays group events to live websocket clients. Rooms are
// keyed by group id; redis carries events between relay instances.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	applog "github.com/akbasozcan3/isci-takip-app-sub002/internal/log"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/retry"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
)

const (
	channelPrefix  = "groups:"
	channelSuffix  = ":events"
	channelPattern = channelPrefix + "*" + channelSuffix

	sendBuffer = 64
)

type Hub struct {
	redis    *redis.Client
	instance string
	logger   *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	subscribed chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}
}

// Client is one websocket connection. A client sits in at most one room.
type Client struct {
	UserID string
	Send   chan []byte

	group  string
	closed bool
}

type relayMessage struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

func NewHub(redisClient *redis.Client, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		redis:      redisClient,
		instance:   uuid.NewString(),
		logger:     applog.Component(logger, "stream"),
		rooms:      map[string]map[*Client]struct{}{},
		subscribed: make(chan struct{}),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	if redisClient != nil {
		go h.subscribeRedis(ctx)
	} else {
		close(h.done)
	}
	return h
}

// Close stops the redis subscription.
func (h *Hub) Close() {
	h.cancel()
	<-h.done
}

func (h *Hub) Register(userID string) *Client {
	return &Client{UserID: userID, Send: make(chan []byte, sendBuffer)}
}

// Join moves c into groupID, leaving any previous room.
func (h *Hub) Join(c *Client, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	h.removeLocked(c)
	if h.rooms[groupID] == nil {
		h.rooms[groupID] = map[*Client]struct{}{}
	}
	h.rooms[groupID][c] = struct{}{}
	c.group = groupID
}

func (h *Hub) Leave(c *Client, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.group == groupID {
		h.removeLocked(c)
	}
}

// Group returns the room c currently sits in.
func (h *Hub) Group(c *Client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.group
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	h.removeLocked(c)
	c.closed = true
	close(c.Send)
}

func (h *Hub) removeLocked(c *Client) {
	if c.group == "" {
		return
	}
	if room, ok := h.rooms[c.group]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.group)
		}
	}
	c.group = ""
}

// Reply sends an event to c alone.
func (h *Hub) Reply(c *Client, event string, payload any) error {
	raw, err := wire.Encode(event, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.closed {
		return nil
	}
	select {
	case c.Send <- raw:
	default:
		h.logger.Debug("client send buffer full", "user", c.UserID)
	}
	return nil
}

// Online returns the users holding a socket in groupID on this instance.
func (h *Hub) Online(groupID string) map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]bool, len(h.rooms[groupID]))
	for c := range h.rooms[groupID] {
		out[c.UserID] = true
	}
	return out
}

// Publish encodes an event envelope and broadcasts it to the room.
func (h *Hub) Publish(groupID, event string, payload any) error {
	raw, err := wire.Encode(event, payload)
	if err != nil {
		return err
	}
	return h.Broadcast(groupID, raw, nil)
}

// Broadcast delivers payload to every local client in groupID except one,
// then forwards it to the other relay instances.
func (h *Hub) Broadcast(groupID string, payload []byte, except *Client) error {
	h.deliver(groupID, payload, except)

	if h.redis == nil {
		return nil
	}
	msg, err := json.Marshal(relayMessage{Origin: h.instance, Payload: payload})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.redis.Publish(ctx, redisChannel(groupID), msg).Err(); err != nil {
		h.logger.Warn("redis publish failed", "group", groupID, "err", err)
		return err
	}
	return nil
}

func (h *Hub) deliver(groupID string, payload []byte, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[groupID] {
		if c == except {
			continue
		}
		select {
		case c.Send <- payload:
		default:
			h.logger.Debug("client send buffer full", "group", groupID, "user", c.UserID)
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context) {
	defer close(h.done)

	pubsub := h.redis.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	policy := retry.Policy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2}
	err := policy.Do(ctx, func(ctx context.Context) error {
		_, err := pubsub.Receive(ctx)
		return err
	})
	if err != nil {
		h.logger.Error("redis subscribe failed", "pattern", channelPattern, "err", err)
		return
	}
	close(h.subscribed)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var relay relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &relay); err != nil {
				h.logger.Warn("dropping malformed relay message", "channel", msg.Channel, "err", err)
				continue
			}
			if relay.Origin == h.instance {
				continue
			}
			if groupID := groupIDFromChannel(msg.Channel); groupID != "" {
				h.deliver(groupID, relay.Payload, nil)
			}
		}
	}
}

func redisChannel(groupID string) string {
	return channelPrefix + groupID + channelSuffix
}

func groupIDFromChannel(ch string) string {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
