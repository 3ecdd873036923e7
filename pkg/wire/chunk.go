package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Chunk framing constants.
const (
	// ChunkHeaderSize is the fixed chunk header size in bytes:
	// message id (16) + sequence index (4) + total count (4) + payload length (4).
	ChunkHeaderSize = 28

	// DefaultMaxChunkSize is the default maximum chunk payload size.
	DefaultMaxChunkSize = 16384

	// MinChunkSize is the smallest allowed chunk payload size.
	MinChunkSize = 1
)

// HeartbeatID is the reserved all-zero message id carried by heartbeat chunks.
var HeartbeatID = uuid.Nil

// PongByte is the single-byte payload of a heartbeat ack.
const PongByte = 0x01

// Chunk framing errors.
var (
	// ErrMalformedChunk indicates a chunk whose header contradicts its
	// contents (payload length mismatch, sequence index >= total count).
	ErrMalformedChunk = errors.New("malformed chunk")

	// ErrChunkTruncated indicates the underlying stream ended mid-chunk.
	ErrChunkTruncated = errors.New("chunk truncated")

	// ErrChunkTooLarge indicates a declared payload beyond the configured cap.
	ErrChunkTooLarge = errors.New("chunk payload too large")

	// ErrInvalidChunkSize indicates a non-positive max chunk size.
	ErrInvalidChunkSize = errors.New("max chunk size must be >= 1")
)

// Chunk is one framed unit of a message as sent over a stream. Transient:
// it exists only on the wire and in a reassembly buffer.
type Chunk struct {
	MessageID uuid.UUID
	Sequence  uint32
	Total     uint32
	Payload   []byte
}

// IsHeartbeat reports whether the chunk carries the reserved heartbeat id.
func (c *Chunk) IsHeartbeat() bool {
	return c.MessageID == HeartbeatID
}

// IsFinal reports whether this is the last chunk of its message.
func (c *Chunk) IsFinal() bool {
	return c.Sequence == c.Total-1
}

// Split cuts an encoded message into ceil(len/maxChunkSize) ordered chunks.
// A payload that fits in one chunk still carries Total = 1 so receivers
// handle every message uniformly.
func Split(messageID uuid.UUID, payload []byte, maxChunkSize int) ([]Chunk, error) {
	if maxChunkSize < MinChunkSize {
		return nil, ErrInvalidChunkSize
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty message payload", ErrMalformedChunk)
	}

	total := (len(payload) + maxChunkSize - 1) / maxChunkSize
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChunkSize
		end := start + maxChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, Chunk{
			MessageID: messageID,
			Sequence:  uint32(i),
			Total:     uint32(total),
			Payload:   payload[start:end],
		})
	}
	return chunks, nil
}

// EncodeChunk serializes a chunk into a single buffer suitable for one
// transport write.
func EncodeChunk(c *Chunk) []byte {
	buf := make([]byte, ChunkHeaderSize+len(c.Payload))
	copy(buf[:16], c.MessageID[:])
	binary.BigEndian.PutUint32(buf[16:20], c.Sequence)
	binary.BigEndian.PutUint32(buf[20:24], c.Total)
	binary.BigEndian.PutUint32(buf[24:28], uint32(len(c.Payload)))
	copy(buf[ChunkHeaderSize:], c.Payload)
	return buf
}

// DecodeChunk parses a complete chunk from buf. It fails with
// ErrMalformedChunk when the declared payload length does not match the
// bytes present, or when the sequence index is not below the total count.
func DecodeChunk(buf []byte) (*Chunk, error) {
	if len(buf) < ChunkHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need %d for header", ErrChunkTruncated, len(buf), ChunkHeaderSize)
	}

	var c Chunk
	copy(c.MessageID[:], buf[:16])
	c.Sequence = binary.BigEndian.Uint32(buf[16:20])
	c.Total = binary.BigEndian.Uint32(buf[20:24])
	length := binary.BigEndian.Uint32(buf[24:28])

	if uint32(len(buf)-ChunkHeaderSize) != length {
		return nil, fmt.Errorf("%w: declared payload %d bytes, got %d",
			ErrMalformedChunk, length, len(buf)-ChunkHeaderSize)
	}
	if err := validateHeader(&c); err != nil {
		return nil, err
	}
	c.Payload = buf[ChunkHeaderSize:]
	return &c, nil
}

// ReadChunk reads exactly one chunk from r, enforcing maxPayload on the
// declared length before allocating.
func ReadChunk(r io.Reader, maxPayload uint32) (*Chunk, error) {
	var header [ChunkHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrChunkTruncated
		}
		return nil, fmt.Errorf("failed to read chunk header: %w", err)
	}

	var c Chunk
	copy(c.MessageID[:], header[:16])
	c.Sequence = binary.BigEndian.Uint32(header[16:20])
	c.Total = binary.BigEndian.Uint32(header[20:24])
	length := binary.BigEndian.Uint32(header[24:28])

	if length > maxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrChunkTooLarge, length, maxPayload)
	}
	if err := validateHeader(&c); err != nil {
		return nil, err
	}

	if length > 0 {
		c.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, c.Payload); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrChunkTruncated
			}
			return nil, fmt.Errorf("failed to read chunk payload: %w", err)
		}
	}
	return &c, nil
}

// WriteChunk writes one chunk to w as a single write call.
func WriteChunk(w io.Writer, c *Chunk) error {
	if _, err := w.Write(EncodeChunk(c)); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	return nil
}

// PingChunk returns the heartbeat probe chunk (empty payload).
func PingChunk() Chunk {
	return Chunk{MessageID: HeartbeatID, Sequence: 0, Total: 1}
}

// PongChunk returns the heartbeat ack chunk (single-byte payload).
func PongChunk() Chunk {
	return Chunk{MessageID: HeartbeatID, Sequence: 0, Total: 1, Payload: []byte{PongByte}}
}

func validateHeader(c *Chunk) error {
	if c.Total == 0 {
		return fmt.Errorf("%w: total count is zero", ErrMalformedChunk)
	}
	if c.Sequence >= c.Total {
		return fmt.Errorf("%w: sequence index %d >= total count %d",
			ErrMalformedChunk, c.Sequence, c.Total)
	}
	return nil
}
