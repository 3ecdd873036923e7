package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
)

func TestSplitHelloWorld(t *testing.T) {
	id := uuid.New()
	chunks, err := Split(id, []byte("HELLOWORLD"), 4)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	want := []string{"HELL", "OWOR", "LD"}
	if len(chunks) != len(want) {
		t.Fatalf("chunk count = %d, want %d", len(chunks), len(want))
	}
	for i, c := range chunks {
		if c.MessageID != id {
			t.Errorf("chunk %d message id mismatch", i)
		}
		if c.Sequence != uint32(i) {
			t.Errorf("chunk %d sequence = %d, want %d", i, c.Sequence, i)
		}
		if c.Total != 3 {
			t.Errorf("chunk %d total = %d, want 3", i, c.Total)
		}
		if string(c.Payload) != want[i] {
			t.Errorf("chunk %d payload = %q, want %q", i, c.Payload, want[i])
		}
	}
	if !chunks[2].IsFinal() {
		t.Error("last chunk not marked final")
	}
}

func TestSplitSingleChunkTotalOne(t *testing.T) {
	chunks, err := Split(uuid.New(), []byte("tiny"), 1024)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("chunk count = %d, want 1", len(chunks))
	}
	if chunks[0].Total != 1 {
		t.Errorf("total = %d, want 1 for single-chunk message", chunks[0].Total)
	}
}

func TestSplitRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("tradewire"), 37)

	for chunkSize := 1; chunkSize <= len(payload)+1; chunkSize++ {
		chunks, err := Split(uuid.New(), payload, chunkSize)
		if err != nil {
			t.Fatalf("Split(size=%d) failed: %v", chunkSize, err)
		}

		var got []byte
		for _, c := range chunks {
			decoded, err := DecodeChunk(EncodeChunk(&c))
			if err != nil {
				t.Fatalf("DecodeChunk(size=%d) failed: %v", chunkSize, err)
			}
			got = append(got, decoded.Payload...)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("round-trip mismatch at chunk size %d", chunkSize)
		}
	}
}

func TestSplitInvalidInput(t *testing.T) {
	if _, err := Split(uuid.New(), []byte("x"), 0); !errors.Is(err, ErrInvalidChunkSize) {
		t.Errorf("expected ErrInvalidChunkSize, got %v", err)
	}
	if _, err := Split(uuid.New(), nil, 4); !errors.Is(err, ErrMalformedChunk) {
		t.Errorf("expected ErrMalformedChunk for empty payload, got %v", err)
	}
}

func TestDecodeChunkLengthMismatch(t *testing.T) {
	c := Chunk{MessageID: uuid.New(), Sequence: 0, Total: 1, Payload: []byte("abcd")}
	buf := EncodeChunk(&c)

	// Truncate one payload byte so the declared length no longer matches.
	_, err := DecodeChunk(buf[:len(buf)-1])
	if !errors.Is(err, ErrMalformedChunk) {
		t.Errorf("expected ErrMalformedChunk, got %v", err)
	}
}

func TestDecodeChunkSequenceOutOfRange(t *testing.T) {
	c := Chunk{MessageID: uuid.New(), Sequence: 3, Total: 3, Payload: []byte("x")}
	_, err := DecodeChunk(EncodeChunk(&c))
	if !errors.Is(err, ErrMalformedChunk) {
		t.Errorf("expected ErrMalformedChunk, got %v", err)
	}
}

func TestDecodeChunkShortHeader(t *testing.T) {
	_, err := DecodeChunk(make([]byte, ChunkHeaderSize-1))
	if !errors.Is(err, ErrChunkTruncated) {
		t.Errorf("expected ErrChunkTruncated, got %v", err)
	}
}

func TestReadChunkStream(t *testing.T) {
	buf := new(bytes.Buffer)
	id := uuid.New()
	chunks, _ := Split(id, []byte("stream me please"), 5)
	for i := range chunks {
		if err := WriteChunk(buf, &chunks[i]); err != nil {
			t.Fatalf("WriteChunk failed: %v", err)
		}
	}

	var got []byte
	for range chunks {
		c, err := ReadChunk(buf, DefaultMaxChunkSize)
		if err != nil {
			t.Fatalf("ReadChunk failed: %v", err)
		}
		if c.MessageID != id {
			t.Error("message id mismatch")
		}
		got = append(got, c.Payload...)
	}
	if string(got) != "stream me please" {
		t.Errorf("reassembled %q", got)
	}

	if _, err := ReadChunk(buf, DefaultMaxChunkSize); err != io.EOF {
		t.Errorf("expected io.EOF after last chunk, got %v", err)
	}
}

func TestReadChunkTruncatedPayload(t *testing.T) {
	c := Chunk{MessageID: uuid.New(), Sequence: 0, Total: 1, Payload: bytes.Repeat([]byte("a"), 64)}
	full := EncodeChunk(&c)

	_, err := ReadChunk(bytes.NewReader(full[:ChunkHeaderSize+10]), DefaultMaxChunkSize)
	if !errors.Is(err, ErrChunkTruncated) {
		t.Errorf("expected ErrChunkTruncated, got %v", err)
	}
}

func TestReadChunkTooLarge(t *testing.T) {
	c := Chunk{MessageID: uuid.New(), Sequence: 0, Total: 1, Payload: bytes.Repeat([]byte("a"), 100)}
	_, err := ReadChunk(bytes.NewReader(EncodeChunk(&c)), 50)
	if !errors.Is(err, ErrChunkTooLarge) {
		t.Errorf("expected ErrChunkTooLarge, got %v", err)
	}
}

func TestHeartbeatChunks(t *testing.T) {
	ping := PingChunk()
	if !ping.IsHeartbeat() {
		t.Error("ping not recognized as heartbeat")
	}
	if len(ping.Payload) != 0 {
		t.Errorf("ping payload = %d bytes, want 0", len(ping.Payload))
	}
	if ping.Total != 1 {
		t.Errorf("ping total = %d, want 1", ping.Total)
	}

	pong := PongChunk()
	if !pong.IsHeartbeat() {
		t.Error("pong not recognized as heartbeat")
	}
	if len(pong.Payload) != 1 || pong.Payload[0] != PongByte {
		t.Errorf("pong payload = %v, want [0x01]", pong.Payload)
	}

	// Heartbeats survive the wire.
	buf := new(bytes.Buffer)
	if err := WriteChunk(buf, &ping); err != nil {
		t.Fatalf("WriteChunk(ping) failed: %v", err)
	}
	got, err := ReadChunk(buf, DefaultMaxChunkSize)
	if err != nil {
		t.Fatalf("ReadChunk(ping) failed: %v", err)
	}
	if !got.IsHeartbeat() || len(got.Payload) != 0 {
		t.Error("ping changed across the wire")
	}
}

func BenchmarkEncodeChunk(b *testing.B) {
	c := Chunk{MessageID: uuid.New(), Sequence: 0, Total: 1, Payload: bytes.Repeat([]byte("x"), 1024)}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		EncodeChunk(&c)
	}
}

func BenchmarkReadChunk(b *testing.B) {
	c := Chunk{MessageID: uuid.New(), Sequence: 0, Total: 1, Payload: bytes.Repeat([]byte("x"), 1024)}
	data := EncodeChunk(&c)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ReadChunk(bytes.NewReader(data), DefaultMaxChunkSize); err != nil {
			b.Fatal(err)
		}
	}
}
