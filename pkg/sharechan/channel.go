// Package sharechan provides the point-to-multipoint channel between a
// client and the N computation engines of an SPDZ deployment.
//
// Every send is fanned out to all engines and every receive collects exactly
// one payload per engine. The secret-sharing scheme needs all engines, so
// there is no partial operation: a failure towards any engine fails the
// whole call.
package sharechan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Channel fans payloads out to N engines and collects their answers in engine
// order. A Channel is owned by a single caller; it is not meant to be driven
// from several goroutines at once.
type Channel struct {
	t       Transport
	engines []EngineID
	timeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Option customises a Channel.
type Option func(*Channel)

// WithTimeout bounds every Broadcast and Collect call. Zero, the default,
// waits indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New wraps t as a channel to engines 0..n-1.
func New(t Transport, n int, opts ...Option) (*Channel, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if n < 1 {
		return nil, fmt.Errorf("sharechan: need at least one engine, got %d", n)
	}
	c := &Channel{t: t, engines: make([]EngineID, n)}
	for i := range c.engines {
		c.engines[i] = EngineID(i)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Engines returns the number of engines.
func (c *Channel) Engines() int { return len(c.engines) }

// Timeout returns the per-operation deadline, zero when unbounded.
func (c *Channel) Timeout() time.Duration { return c.timeout }

func (c *Channel) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func (c *Channel) mapErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return err
}

// Broadcast sends payload to every engine in engine order.
func (c *Channel) Broadcast(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	for _, id := range c.engines {
		if err := c.t.Send(ctx, id, payload); err != nil {
			return c.mapErr("broadcast", &EngineError{Op: "broadcast", Engine: id, Err: err})
		}
	}
	return nil
}

// Collect receives one payload from every engine. The result is indexed by
// engine position, independent of the order in which the engines answered.
func (c *Channel) Collect(ctx context.Context) ([][]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	batch, err := c.t.ReceiveAll(ctx, c.engines)
	if err != nil {
		return nil, c.mapErr("collect", err)
	}
	out := make([][]byte, len(c.engines))
	for i, id := range c.engines {
		msg, ok := batch[id]
		if !ok {
			return nil, &EngineError{Op: "collect", Engine: id, Err: errors.New("missing payload")}
		}
		out[i] = msg
	}
	return out, nil
}

// Close releases the underlying transport. It is safe to call more than
// once; later calls return the result of the first.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.t.Close()
	})
	return c.closeErr
}
