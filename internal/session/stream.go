package session

import (
	"sync"
)

// Stream is the standing inbound-payload broadcast of a Manager.
//
// Every consumer sees every payload published after it subscribed, in
// publish order. Nothing is replayed. Publishing waits until each live
// consumer has room in its buffer, so a consumer that stops reading must
// Close or it stalls delivery to the others.
type Stream struct {
	buffer int

	mu        sync.Mutex
	consumers map[*Consumer]struct{}
	closed    bool

	// publishMu serializes publishes so all consumers see one order.
	publishMu sync.Mutex

	closeOnce sync.Once
	onClose   func()
	done      chan struct{}
}

// Consumer is one reader of a Stream. C is closed when the consumer or the
// stream is closed.
type Consumer struct {
	C <-chan Payload

	ch     chan Payload
	stream *Stream

	// sendMu guards ch against a close racing a send.
	sendMu sync.Mutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

func newStream(buffer int, onClose func()) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{
		buffer:    buffer,
		consumers: make(map[*Consumer]struct{}),
		onClose:   onClose,
		done:      make(chan struct{}),
	}
}

// Subscribe attaches a new consumer.
func (s *Stream) Subscribe() (*Consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}

	ch := make(chan Payload, s.buffer)
	c := &Consumer{
		C:      ch,
		ch:     ch,
		stream: s,
		done:   make(chan struct{}),
	}
	s.consumers[c] = struct{}{}
	return c, nil
}

// Close detaches every consumer and releases the transport registration.
// Only the first call has any effect.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		consumers := make([]*Consumer, 0, len(s.consumers))
		for c := range s.consumers {
			consumers = append(consumers, c)
		}
		clear(s.consumers)
		s.mu.Unlock()

		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
		for _, c := range consumers {
			c.shutdown()
		}
	})
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed when the stream is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Len returns the number of attached consumers.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumers)
}

// publish delivers p to every consumer attached at the time of the call.
// It returns the number of consumers that received it.
func (s *Stream) publish(p Payload) int {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	targets := make([]*Consumer, 0, len(s.consumers))
	for c := range s.consumers {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	delivered := 0
	for _, c := range targets {
		if c.send(p) {
			delivered++
		}
	}
	return delivered
}

// Close detaches the consumer and closes C. Safe to call more than once
// and from any goroutine.
func (c *Consumer) Close() {
	c.stream.mu.Lock()
	delete(c.stream.consumers, c)
	c.stream.mu.Unlock()
	c.shutdown()
}

// Done is closed once the consumer is closed.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

func (c *Consumer) shutdown() {
	c.once.Do(func() {
		// Wake a publisher blocked on this consumer before taking sendMu.
		close(c.done)
		c.sendMu.Lock()
		c.closed = true
		close(c.ch)
		c.sendMu.Unlock()
	})
}

// send blocks until the consumer accepts p or is closed.
func (c *Consumer) send(p Payload) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.ch <- p:
		return true
	case <-c.done:
		return false
	}
}
