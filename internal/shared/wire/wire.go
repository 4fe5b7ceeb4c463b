// Package wire holds the payloads exchanged between the field agent and the
// relay: push-channel envelopes, remote store samples and poll results.
package wire

import (
	"encoding/json"
	"errors"
)

const (
	EventJoin           = "join"
	EventLeave          = "leave"
	EventLocationUpdate = "location_update"
	EventGroupDeleted   = "group_deleted"
	EventMemberApproved = "member_approved"

	// Relay replies to a join frame.
	EventJoined = "joined"
	EventError  = "error"
)

var ErrEmptyEvent = errors.New("wire: envelope without event")

// Envelope is a single push-channel frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Join struct {
	GroupID string `json:"groupId"`
}

// Refusal is the payload of an error reply.
type Refusal struct {
	GroupID string `json:"groupId"`
	Reason  string `json:"reason"`
}

type LocationUpdate struct {
	OwnerID   string   `json:"ownerId"`
	GroupID   string   `json:"groupId"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Heading   *float64 `json:"heading,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

type GroupDeleted struct {
	GroupID string `json:"groupId"`
}

type MemberApproved struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

// Sample is the remote store payload for one position fix.
type Sample struct {
	OwnerID   string `json:"ownerId"`
	Timestamp int64  `json:"timestamp"`
	Coords    Coords `json:"coords"`
}

type Coords struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	Heading  *float64 `json:"heading,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
}

// MemberLocation is one row of the members-with-locations poll.
type MemberLocation struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Location    *Location `json:"location"`
	IsOnline    bool      `json:"isOnline"`
}

type Location struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"`
}

// Encode wraps v into an envelope for event and marshals it.
func Encode(event string, v any) ([]byte, error) {
	if event == "" {
		return nil, ErrEmptyEvent
	}
	env := Envelope{Event: event}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses a raw frame.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, ErrEmptyEvent
	}
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// GroupID peeks at the groupId field common to every group-scoped event.
func (e Envelope) GroupID() string {
	var scoped struct {
		GroupID string `json:"groupId"`
	}
	_ = e.Decode(&scoped)
	return scoped.GroupID
}
