package wire

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{
			name: "data with topic",
			msg:  NewData("ticks", []byte(`{"px":101.5}`)),
		},
		{
			name: "data without topic",
			msg:  NewData("", []byte{0x00, 0xFF}),
		},
		{
			name: "request",
			msg:  NewRequest([]byte("book snapshot?")),
		},
		{
			name: "subscribe",
			msg:  NewSubscribe("trades"),
		},
		{
			name: "subscribe with policy",
			msg:  NewSubscribeWithPolicy("trades", "drop_oldest"),
		},
		{
			name: "unsubscribe",
			msg:  NewUnsubscribe("trades"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeMessage(tt.msg)
			if err != nil {
				t.Fatalf("EncodeMessage failed: %v", err)
			}
			got, err := DecodeMessage(data)
			if err != nil {
				t.Fatalf("DecodeMessage failed: %v", err)
			}
			if got.Type != tt.msg.Type {
				t.Errorf("type = %v, want %v", got.Type, tt.msg.Type)
			}
			if got.Topic != tt.msg.Topic {
				t.Errorf("topic = %q, want %q", got.Topic, tt.msg.Topic)
			}
			if !bytes.Equal(got.Payload, tt.msg.Payload) {
				t.Error("payload mismatch")
			}
			if !bytes.Equal(got.CorrelationID, tt.msg.CorrelationID) {
				t.Error("correlation id mismatch")
			}
		})
	}
}

func TestResponseCorrelation(t *testing.T) {
	req := NewRequest([]byte("ping"))
	resp := NewResponse(req, []byte("pong"))

	if resp.Correlation() != req.Correlation() {
		t.Error("response correlation id does not match request")
	}
	if resp.Correlation() == uuid.Nil {
		t.Error("correlation id is nil")
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "unknown type",
			msg:  Message{Type: 99},
		},
		{
			name: "length mismatch",
			msg:  Message{Type: TypeData, Length: 5, Payload: []byte("abc")},
		},
		{
			name: "request without correlation id",
			msg:  Message{Type: TypeRequest},
		},
		{
			name: "subscribe without topic",
			msg:  Message{Type: TypeSubscribe, CorrelationID: make([]byte, 16)},
		},
		{
			name: "short correlation id",
			msg:  Message{Type: TypeResponse, CorrelationID: []byte{1, 2, 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestDecodeMessageGarbage(t *testing.T) {
	if _, err := DecodeMessage([]byte{0xFF, 0x00, 0x13, 0x37}); err == nil {
		t.Error("expected error decoding garbage")
	}
}

func TestDeterministicEncoding(t *testing.T) {
	msg := NewData("ticks", []byte("payload"))

	a, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}
	b, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}
}
