package wire

import (
	"errors"
	"testing"
)

func TestEncodeDecodeLocationUpdate(t *testing.T) {
	heading := 90.0
	raw, err := Encode(EventLocationUpdate, LocationUpdate{OwnerID: "u1", GroupID: "g1", Lat: 1, Lng: 2, Heading: &heading, Timestamp: 42})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Event != EventLocationUpdate || env.GroupID() != "g1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	var upd LocationUpdate
	if err := env.Decode(&upd); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if upd.Heading == nil || *upd.Heading != 90 || upd.Accuracy != nil {
		t.Fatalf("unexpected optional fields: %+v", upd)
	}
}

func TestEnvelopeErrors(t *testing.T) {
	if _, err := Encode("", nil); !errors.Is(err, ErrEmptyEvent) {
		t.Fatalf("expected empty event error")
	}
	if _, err := DecodeEnvelope([]byte(`{"data":{}}`)); !errors.Is(err, ErrEmptyEvent) {
		t.Fatalf("expected empty event error")
	}
	if _, err := DecodeEnvelope([]byte(`{`)); err == nil {
		t.Fatalf("expected parse error")
	}
	env, err := DecodeEnvelope([]byte(`{"event":"group_deleted"}`))
	if err != nil || env.GroupID() != "" {
		t.Fatalf("expected envelope without group id")
	}
}
