package device

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// Watcher exposes reactive queries. Each returned channel first carries
// the current value, then every distinct value observed after a committed
// write. Channels are closed when ctx ends.
//
// A slow reader does not block writers: intermediate values may be skipped
// but the latest one is always delivered.
type Watcher interface {
	WatchAll(ctx context.Context) <-chan []Device

	// WatchDevice carries nil once the device is deleted.
	WatchDevice(ctx context.Context, id int64) <-chan *Device

	WatchTime(ctx context.Context, id int64) <-chan string
	WatchStatus(ctx context.Context, id int64) <-chan string
	WatchMessage(ctx context.Context, id int64) <-chan string
	WatchSubscribed(ctx context.Context, id int64) <-chan bool
	WatchConnected(ctx context.Context) <-chan bool
}

// notifier wakes watchers after a write. Each generation is a channel that
// is closed and replaced on broadcast.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	close(n.ch)
	n.ch = make(chan struct{})
	n.mu.Unlock()
}

// watch re-runs query after every write and forwards distinct results.
// Query errors skip the emission; the watcher retries on the next write.
func watch[T any](ctx context.Context, n *notifier, query func(context.Context) (T, error), equal func(a, b T) bool) <-chan T {
	out := make(chan T, 1)

	go func() {
		defer close(out)

		var last T
		sent := false
		for {
			// Taken before the query so a write that lands mid-query is not missed.
			changed := n.wait()

			v, err := query(ctx)
			if err == nil && (!sent || !equal(last, v)) {
				select {
				case out <- v:
					last, sent = v, true
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func eq[T comparable](a, b T) bool { return a == b }

// WatchAll watches the ordered device list.
func (r *SQLiteRepository) WatchAll(ctx context.Context) <-chan []Device {
	return watch(ctx, r.notifier, r.GetAll, slices.Equal[[]Device])
}

// WatchDevice watches one device.
func (r *SQLiteRepository) WatchDevice(ctx context.Context, id int64) <-chan *Device {
	query := func(ctx context.Context) (*Device, error) {
		d, err := r.GetByID(ctx, id)
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, nil
		}
		return d, err
	}
	equal := func(a, b *Device) bool {
		if a == nil || b == nil {
			return a == b
		}
		return *a == *b
	}
	return watch(ctx, r.notifier, query, equal)
}

// WatchTime watches a device's time field.
func (r *SQLiteRepository) WatchTime(ctx context.Context, id int64) <-chan string {
	return watch(ctx, r.notifier, func(ctx context.Context) (string, error) { return r.Time(ctx, id) }, eq[string])
}

// WatchStatus watches a device's status field.
func (r *SQLiteRepository) WatchStatus(ctx context.Context, id int64) <-chan string {
	return watch(ctx, r.notifier, func(ctx context.Context) (string, error) { return r.Status(ctx, id) }, eq[string])
}

// WatchMessage watches a device's message field.
func (r *SQLiteRepository) WatchMessage(ctx context.Context, id int64) <-chan string {
	return watch(ctx, r.notifier, func(ctx context.Context) (string, error) { return r.Message(ctx, id) }, eq[string])
}

// WatchSubscribed watches a device's subscribed flag.
func (r *SQLiteRepository) WatchSubscribed(ctx context.Context, id int64) <-chan bool {
	return watch(ctx, r.notifier, func(ctx context.Context) (bool, error) { return r.Subscribed(ctx, id) }, eq[bool])
}

// WatchConnected watches the broker connection flag.
func (r *SQLiteRepository) WatchConnected(ctx context.Context) <-chan bool {
	return watch(ctx, r.notifier, r.Connected, eq[bool])
}
