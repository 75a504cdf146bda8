// Package live defines the bidirectional channel between a voice session and
// a hosted conversational model.
//
// The channel is opaque to the rest of livetalk: outbound it accepts encoded
// microphone chunks, inbound it yields a stream of [Message] values carrying
// transcript fragments, synthesized audio, turn boundaries and interruption
// signals. Concrete adapters live in sub-packages (live/gemini for Google's
// Gemini Live API, live/mock for tests).
package live

import (
	"context"
	"errors"

	"github.com/MrWong99/livetalk/pkg/audio"
)

var (
	// ErrClosed is returned by [Sender.Send] after the channel was closed.
	ErrClosed = errors.New("live: channel closed")

	// ErrBackpressure is returned by [Sender.Send] when the outbound queue is
	// full. The chunk is dropped.
	ErrBackpressure = errors.New("live: outbound queue full")
)

// Role identifies who produced a transcript fragment.
type Role string

const (
	// RoleUser marks recognized user speech.
	RoleUser Role = "user"

	// RoleModel marks the text form of synthesized model speech.
	RoleModel Role = "model"
)

// TranscriptFragment is an incremental piece of transcript text.
type TranscriptFragment struct {
	Role Role
	Text string
}

// Message is one inbound server message. A single message may carry several
// kinds of payload at once; consumers apply them in the order transcript
// fragments, interruption, audio, turn completion.
type Message struct {
	// Transcripts holds transcript fragments in arrival order.
	Transcripts []TranscriptFragment

	// Audio holds synthesized speech chunks in playback order.
	Audio []audio.EncodedChunk

	// Interrupted reports that the model stopped speaking because the user
	// barged in. Everything queued for playback must be discarded.
	Interrupted bool

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool

	// Closed is set on the final message of a channel. Err is nil when the
	// remote end closed the channel normally.
	Closed bool

	// Err is the channel-level failure that ended the channel, if any.
	Err error
}

// Sender accepts outbound audio. Send never blocks: if the chunk cannot be
// queued immediately it is dropped and an error is returned.
type Sender interface {
	Send(chunk audio.EncodedChunk) error
}

// Channel is an open bidirectional session.
//
// Implementations must be safe for concurrent use.
type Channel interface {
	Sender

	// Messages returns the inbound message stream. The final message has
	// Closed set, after which the stream is closed. Closing the channel
	// locally closes the stream without a final message.
	Messages() <-chan Message

	// Close terminates the channel and releases its resources. Idempotent.
	Close() error
}

// Config holds the per-session parameters sent during the handshake.
type Config struct {
	// Voice is the provider-specific voice name. Empty selects the default.
	Voice string

	// Instructions is the system instruction for the model.
	Instructions string

	// InputSampleRate is the rate of outbound microphone chunks in Hz.
	InputSampleRate int
}

// Dialer opens channels. Dial blocks until the handshake completes, ctx is
// cancelled, or the handshake fails.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Channel, error)
}

// DialerFunc adapts an ordinary function to the [Dialer] interface.
type DialerFunc func(ctx context.Context, cfg Config) (Channel, error)

// Dial implements [Dialer].
func (f DialerFunc) Dial(ctx context.Context, cfg Config) (Channel, error) {
	return f(ctx, cfg)
}
