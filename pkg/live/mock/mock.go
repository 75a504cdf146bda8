// Package mock provides in-memory mock implementations of [live.Dialer] and
// [live.Channel] for use in unit tests.
//
// All mocks are safe for concurrent use. Tests script the inbound stream with
// [Channel.Push] and inspect outbound audio through [Channel.Sent].
//
// Typical usage:
//
//	ch := mock.NewChannel()
//	d := &mock.Dialer{Channel: ch}
//	// ... start a session with d ...
//	ch.Push(live.Message{TurnComplete: true})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/live"
)

// Compile-time interface assertions.
var (
	_ live.Dialer  = (*Dialer)(nil)
	_ live.Channel = (*Channel)(nil)
)

// ─── Dialer ───────────────────────────────────────────────────────────────────

// Dialer is a mock implementation of [live.Dialer].
type Dialer struct {
	mu sync.Mutex

	// Channel is returned by Dial when DialError is nil. A fresh channel is
	// created on first use if left nil.
	Channel *Channel

	// DialError is returned by Dial.
	DialError error

	// Block, when non-nil, makes Dial wait until it is closed or the context
	// is cancelled. Use it to hold a session in the connecting state.
	Block chan struct{}

	// DialCalls records the config of every Dial invocation.
	DialCalls []live.Config
}

// Dial implements [live.Dialer].
func (d *Dialer) Dial(ctx context.Context, cfg live.Config) (live.Channel, error) {
	d.mu.Lock()
	d.DialCalls = append(d.DialCalls, cfg)
	block := d.Block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialError != nil {
		return nil, d.DialError
	}
	if d.Channel == nil {
		d.Channel = NewChannel()
	}
	return d.Channel, nil
}

// Calls returns the number of Dial invocations so far.
func (d *Dialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DialCalls)
}

// ─── Channel ──────────────────────────────────────────────────────────────────

// Channel is a mock implementation of [live.Channel].
type Channel struct {
	mu sync.Mutex

	// SendError is returned by Send; the chunk is not recorded.
	SendError error

	// CloseError is returned by Close.
	CloseError error

	sent       []audio.EncodedChunk
	closeCount int
	closed     bool
	messages   chan live.Message
}

// NewChannel returns an open mock channel with a generously buffered inbound
// stream.
func NewChannel() *Channel {
	return &Channel{messages: make(chan live.Message, 256)}
}

// Send implements [live.Sender].
func (c *Channel) Send(chunk audio.EncodedChunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return live.ErrClosed
	}
	if c.SendError != nil {
		return c.SendError
	}
	c.sent = append(c.sent, chunk)
	return nil
}

// Messages implements [live.Channel].
func (c *Channel) Messages() <-chan live.Message { return c.messages }

// Close implements [live.Channel]. The inbound stream is closed on the first
// call.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	if !c.closed {
		c.closed = true
		close(c.messages)
	}
	return c.CloseError
}

// Push delivers m on the inbound stream. Messages pushed after Close are
// discarded. If m is a final message (Closed set) the stream is closed after
// it, mirroring a real remote close.
func (c *Channel) Push(m live.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.messages <- m
	if m.Closed {
		c.closed = true
		close(c.messages)
	}
}

// Sent returns a copy of every chunk accepted by Send.
func (c *Channel) Sent() []audio.EncodedChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.EncodedChunk, len(c.sent))
	copy(out, c.sent)
	return out
}

// CloseCount returns how many times Close was called.
func (c *Channel) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}
