package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelope_Validate(t *testing.T) {
	base := Envelope{V: Version, Type: TypeHello, ID: "1", TS: time.Now(), Payload: json.RawMessage(`{}`)}

	if err := base.Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{"missing v", func(e *Envelope) { e.V = "" }},
		{"wrong version", func(e *Envelope) { e.V = "v0" }},
		{"missing type", func(e *Envelope) { e.Type = "" }},
		{"unknown type", func(e *Envelope) { e.Type = "bogus" }},
	}
	for _, tc := range cases {
		e := base
		tc.mutate(&e)
		if err := e.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	for _, typ := range []string{
		TypeHelloAck, TypeRoomJoin, TypeRoomLeave,
		TypeMessageSend, TypeMessageAck, TypeMessageNew,
		TypePresenceCount, TypePresenceList,
		TypeRoomHistoryFetch, TypeRoomHistoryChunk, TypeError,
	} {
		e := base
		e.Type = typ
		if err := e.Validate(); err != nil {
			t.Fatalf("type %s rejected: %v", typ, err)
		}
	}
}
