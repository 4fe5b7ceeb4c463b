package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
)

func expectMessage(t *testing.T, c *Client, want string) {
	t.Helper()
	select {
	case msg := <-c.Send:
		if string(msg) != want {
			t.Fatalf("unexpected message %q, want %q", msg, want)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func expectSilence(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("unexpected message %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitSubscribed(t *testing.T, h *Hub) {
	t.Helper()
	select {
	case <-h.subscribed:
	case <-time.After(time.Second):
		t.Fatalf("redis subscription not ready")
	}
}

func TestHubRoomBroadcastSkipsSender(t *testing.T) {
	hub := NewHub(nil, nil)
	a := hub.Register("user-a")
	b := hub.Register("user-b")
	defer hub.Unregister(a)
	defer hub.Unregister(b)

	hub.Join(a, "g1")
	hub.Join(b, "g1")

	if err := hub.Broadcast("g1", []byte("hello"), a); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	expectMessage(t, b, "hello")
	expectSilence(t, a)
}

func TestHubJoinSwitchesRoom(t *testing.T) {
	hub := NewHub(nil, nil)
	a := hub.Register("user-a")
	defer hub.Unregister(a)

	hub.Join(a, "g1")
	hub.Join(a, "g2")

	if hub.Group(a) != "g2" {
		t.Fatalf("expected g2, got %q", hub.Group(a))
	}
	if online := hub.Online("g1"); len(online) != 0 {
		t.Fatalf("g1 should be empty: %v", online)
	}
	if !hub.Online("g2")["user-a"] {
		t.Fatalf("user-a should be online in g2")
	}

	_ = hub.Broadcast("g1", []byte("old"), nil)
	expectSilence(t, a)

	hub.Leave(a, "g1")
	if hub.Group(a) != "g2" {
		t.Fatalf("leaving another room must not move the client")
	}
	hub.Leave(a, "g2")
	if hub.Group(a) != "" || len(hub.Online("g2")) != 0 {
		t.Fatalf("expected client out of every room")
	}
}

func TestHubPublishEncodesEnvelope(t *testing.T) {
	hub := NewHub(nil, nil)
	a := hub.Register("user-a")
	defer hub.Unregister(a)
	hub.Join(a, "g1")

	if err := hub.Publish("g1", wire.EventGroupDeleted, wire.GroupDeleted{GroupID: "g1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg := <-a.Send
	env, err := wire.DecodeEnvelope(msg)
	if err != nil || env.Event != wire.EventGroupDeleted || env.GroupID() != "g1" {
		t.Fatalf("unexpected envelope %s (%v)", msg, err)
	}
}

func TestHubChannelHelpers(t *testing.T) {
	ch := redisChannel("abc")
	if ch != "groups:abc:events" {
		t.Fatalf("unexpected channel %q", ch)
	}
	if groupIDFromChannel(ch) != "abc" {
		t.Fatalf("unexpected group id")
	}
	for _, bad := range []string{"bad", "groups::events", "tracking:abc:broadcast"} {
		if groupIDFromChannel(bad) != "" {
			t.Fatalf("expected empty group id for %q", bad)
		}
	}
}

func TestUnregisterCloses(t *testing.T) {
	hub := NewHub(nil, nil)
	client := hub.Register("user-a")
	hub.Join(client, "g1")
	hub.Unregister(client)
	hub.Unregister(client)

	if _, ok := <-client.Send; ok {
		t.Fatalf("expected channel closed")
	}
	if len(hub.Online("g1")) != 0 {
		t.Fatalf("room should be empty")
	}
	_ = hub.Broadcast("g1", []byte("late"), nil)
}

func TestReplyTargetsOneClient(t *testing.T) {
	hub := NewHub(nil, nil)
	a := hub.Register("user-a")
	b := hub.Register("user-b")
	hub.Join(a, "g1")
	hub.Join(b, "g1")

	if err := hub.Reply(a, wire.EventJoined, wire.Join{GroupID: "g1"}); err != nil {
		t.Fatalf("reply: %v", err)
	}
	expectMessage(t, a, `{"event":"joined","data":{"groupId":"g1"}}`)
	if len(b.Send) != 0 {
		t.Fatalf("reply leaked to another client")
	}

	hub.Unregister(a)
	if err := hub.Reply(a, wire.EventJoined, wire.Join{GroupID: "g1"}); err != nil {
		t.Fatalf("reply after unregister: %v", err)
	}
}

func TestHubRedisFanOut(t *testing.T) {
	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rc.Close()

	h1 := NewHub(rc, nil)
	defer h1.Close()
	h2 := NewHub(rc, nil)
	defer h2.Close()
	waitSubscribed(t, h1)
	waitSubscribed(t, h2)

	local := h1.Register("user-a")
	remote := h2.Register("user-b")
	defer h1.Unregister(local)
	defer h2.Unregister(remote)
	h1.Join(local, "g1")
	h2.Join(remote, "g1")

	if err := h1.Broadcast("g1", []byte(`{"event":"ping"}`), nil); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	expectMessage(t, remote, `{"event":"ping"}`)
	expectMessage(t, local, `{"event":"ping"}`)
	expectSilence(t, local)
}

func TestHubRedisDropsMalformed(t *testing.T) {
	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rc.Close()

	hub := NewHub(rc, nil)
	defer hub.Close()
	waitSubscribed(t, hub)

	c := hub.Register("user-a")
	defer hub.Unregister(c)
	hub.Join(c, "g1")

	if err := rc.Publish(context.Background(), redisChannel("g1"), "not json").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectSilence(t, c)

	raw, _ := json.Marshal(relayMessage{Origin: "other", Payload: json.RawMessage(`{"event":"x"}`)})
	if err := rc.Publish(context.Background(), redisChannel("g1"), raw).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectMessage(t, c, `{"event":"x"}`)
}

func TestHubRedisPublishError(t *testing.T) {
	server := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: server.Addr()})
	server.Close()
	defer rc.Close()

	hub := NewHub(rc, nil)
	c := hub.Register("user-a")
	defer hub.Unregister(c)
	hub.Join(c, "g1")

	if err := hub.Broadcast("g1", []byte("ping"), nil); err == nil {
		t.Fatalf("expected redis error")
	}
	expectMessage(t, c, "ping")
}
