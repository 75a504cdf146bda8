package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/livetalk/pkg/live"
)

// Compile-time interface assertion.
var _ live.Dialer = (*GuardedDialer)(nil)

// GuardedDialer is a [live.Dialer] behind a [Breaker].
type GuardedDialer struct {
	next    live.Dialer
	breaker *Breaker
}

// GuardDialer wraps next so that consecutive handshake failures open b.
// Dials abandoned through context cancellation are not counted.
func GuardDialer(next live.Dialer, b *Breaker) *GuardedDialer {
	return &GuardedDialer{next: next, breaker: b}
}

// Dial implements [live.Dialer].
func (d *GuardedDialer) Dial(ctx context.Context, cfg live.Config) (live.Channel, error) {
	var ch live.Channel
	err := d.breaker.Do(func() error {
		var err error
		ch, err = d.next.Dial(ctx, cfg)
		return err
	}, cancelled)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Breaker returns the breaker guarding the dialer.
func (d *GuardedDialer) Breaker() *Breaker { return d.breaker }

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
