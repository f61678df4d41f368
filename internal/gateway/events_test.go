package gateway

import (
	"testing"
)

func TestDecodeInboundEnvelope(t *testing.T) {
	var evt InboundEvent
	raw := []byte(`{"type":"join","data":{"conversation_id":7}}`)
	if err := decodePayload(raw, &evt); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if evt.Type != EvtJoin {
		t.Errorf("type = %q, want join", evt.Type)
	}

	var payload RoomPayload
	if err := decodePayload(evt.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ConversationID != 7 {
		t.Errorf("conversation id = %d, want 7", payload.ConversationID)
	}
}

func TestDecodeRejectsMissingType(t *testing.T) {
	var evt InboundEvent
	if err := decodePayload([]byte(`{"data":{}}`), &evt); err == nil {
		t.Error("envelope without type accepted")
	}
}

func TestDecodeMarkReadPayload(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"valid", `{"conversation_id":1,"message_id":"650000000000000000000001"}`, true},
		{"short id", `{"conversation_id":1,"message_id":"abc"}`, false},
		{"not hex", `{"conversation_id":1,"message_id":"zz0000000000000000000001"}`, false},
		{"missing conv", `{"message_id":"650000000000000000000001"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var payload MarkReadPayload
			err := decodePayload([]byte(tc.raw), &payload)
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("invalid payload accepted")
			}
		})
	}
}

func TestDecodePresencePayload(t *testing.T) {
	var payload PresenceUpdatePayload
	if err := decodePayload([]byte(`{"status":"away"}`), &payload); err != nil {
		t.Fatalf("away rejected: %v", err)
	}
	// offline 只能由断连产生，不接受显式切换
	if err := decodePayload([]byte(`{"status":"offline"}`), &payload); err == nil {
		t.Error("explicit offline accepted")
	}
}

func TestDecodeBackfillPayloadLimits(t *testing.T) {
	var payload BackfillPayload
	if err := decodePayload([]byte(`{"conversation_id":1,"limit":500}`), &payload); err == nil {
		t.Error("oversized limit accepted")
	}
	var cursorless BackfillPayload
	if err := decodePayload([]byte(`{"conversation_id":1}`), &cursorless); err != nil {
		t.Errorf("cursorless request rejected: %v", err)
	}
}
