package stream

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

// Reassembly errors. All of them poison the stream.
var (
	// ErrInterleavedMessage indicates a chunk for a different message id
	// arrived while another message was still accumulating.
	ErrInterleavedMessage = errors.New("interleaved message on stream")

	// ErrSequenceGap indicates a chunk whose sequence index is not exactly
	// one past the previous chunk.
	ErrSequenceGap = errors.New("chunk sequence gap")

	// ErrTotalChanged indicates the total count changed between chunks of
	// the same message.
	ErrTotalChanged = errors.New("total chunk count changed mid-message")

	// ErrMessageTooLarge indicates the accumulated message exceeded the cap.
	ErrMessageTooLarge = errors.New("reassembled message too large")

	// ErrStreamPoisoned is returned by Feed after any previous error.
	ErrStreamPoisoned = errors.New("stream poisoned")
)

// State is the reassembler state.
type State uint8

const (
	// StateIdle means no partial message is buffered.
	StateIdle State = iota

	// StateAccumulating means chunks are arriving for the current message.
	StateAccumulating

	// StateErrored means the stream is poisoned and must be closed.
	StateErrored
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAccumulating:
		return "ACCUMULATING"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// DefaultMaxMessageSize caps a reassembled message at 4 MB.
const DefaultMaxMessageSize = 4 << 20

// Reassembler consumes chunks in arrival order and emits completed message
// payloads. Not safe for concurrent use; each stream owns one instance.
type Reassembler struct {
	state          State
	maxMessageSize int

	messageID uuid.UUID
	nextSeq   uint32
	total     uint32
	buf       []byte
}

// NewReassembler creates a reassembler with the given message size cap.
// A non-positive cap selects DefaultMaxMessageSize.
func NewReassembler(maxMessageSize int) *Reassembler {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Reassembler{
		state:          StateIdle,
		maxMessageSize: maxMessageSize,
	}
}

// State returns the current state.
func (r *Reassembler) State() State {
	return r.state
}

// Pending returns how many bytes of partial message are buffered.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

// Feed consumes one chunk. When the chunk completes a message, Feed returns
// the full payload and the reassembler returns to Idle. A sequencing
// violation discards the partial message and poisons the stream; every
// later Feed returns ErrStreamPoisoned.
func (r *Reassembler) Feed(c *wire.Chunk) ([]byte, error) {
	switch r.state {
	case StateErrored:
		return nil, ErrStreamPoisoned

	case StateIdle:
		if c.Sequence != 0 {
			return nil, r.poison(fmt.Errorf("%w: first chunk has sequence %d", ErrSequenceGap, c.Sequence))
		}
		r.messageID = c.MessageID
		r.total = c.Total
		r.nextSeq = 1
		r.buf = append(r.buf[:0], c.Payload...)

		if len(r.buf) > r.maxMessageSize {
			return nil, r.poison(fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(r.buf), r.maxMessageSize))
		}
		if c.IsFinal() {
			return r.complete(), nil
		}
		r.state = StateAccumulating
		return nil, nil

	case StateAccumulating:
		if c.MessageID != r.messageID {
			return nil, r.poison(fmt.Errorf("%w: accumulating %s, got %s",
				ErrInterleavedMessage, r.messageID, c.MessageID))
		}
		if c.Total != r.total {
			return nil, r.poison(fmt.Errorf("%w: %d then %d", ErrTotalChanged, r.total, c.Total))
		}
		if c.Sequence != r.nextSeq {
			return nil, r.poison(fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, r.nextSeq, c.Sequence))
		}

		r.nextSeq++
		r.buf = append(r.buf, c.Payload...)
		if len(r.buf) > r.maxMessageSize {
			return nil, r.poison(fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(r.buf), r.maxMessageSize))
		}
		if c.IsFinal() {
			return r.complete(), nil
		}
		return nil, nil

	default:
		return nil, r.poison(fmt.Errorf("unknown reassembler state %d", r.state))
	}
}

// Reset returns an errored or partial reassembler to Idle, discarding any
// buffered data. Used after the owning stream has been replaced.
func (r *Reassembler) Reset() {
	r.state = StateIdle
	r.buf = nil
	r.nextSeq = 0
	r.total = 0
	r.messageID = uuid.Nil
}

func (r *Reassembler) complete() []byte {
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	r.state = StateIdle
	r.buf = r.buf[:0]
	r.nextSeq = 0
	r.total = 0
	return out
}

func (r *Reassembler) poison(err error) error {
	r.state = StateErrored
	r.buf = nil
	return err
}
