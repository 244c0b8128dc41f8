package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// call tracks one outstanding transport operation. The transport may
// report its result after the waiter has given up; late then receives it.
type call struct {
	mu        sync.Mutex
	finished  bool
	abandoned bool
	err       error
	done      chan struct{}
	late      func(err error)
}

func newCall(late func(err error)) *call {
	return &call{done: make(chan struct{}), late: late}
}

// complete records the result. Only the first invocation counts.
func (c *call) complete(err error) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.err = err
	abandoned := c.abandoned
	c.mu.Unlock()

	close(c.done)
	if abandoned && c.late != nil {
		c.late(err)
	}
}

// abandon marks the call as no longer awaited. If the result raced in
// first it is returned with finished set.
func (c *call) abandon() (err error, finished bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return c.err, true
	}
	c.abandoned = true
	return nil, false
}

// await issues a transport operation and blocks until it reports, the
// operation timeout passes, or ctx ends.
//
// A panic raised by issue is returned as ErrTransportFailure. Timeouts are
// ErrTimeout; a cancelled ctx returns ctx.Err().
func (m *Manager) await(ctx context.Context, op string, issue func(onResult func(err error)), late func(err error)) (err error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	c := newCall(late)

	func() {
		defer func() {
			if r := recover(); r != nil {
				c.complete(fmt.Errorf("%w: %s panicked: %v", ErrTransportFailure, op, r))
			}
		}()
		issue(c.complete)
	}()

	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		if err, finished := c.abandon(); finished {
			return err
		}
		m.logger.Warn("transport operation abandoned", "operation", op, "reason", ctx.Err())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %v", ErrTimeout, op, m.timeout)
		}
		return ctx.Err()
	}
}
