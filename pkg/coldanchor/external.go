package coldanchor

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrRejected means the reading failed validation and was dropped.
	ErrRejected = errors.New("coldanchor: reading rejected")
	// ErrBackpressure means the pipeline handed the reading back, usually
	// because the recovery log is full and policy.on_wal_full is reject.
	ErrBackpressure = errors.New("coldanchor: reading not accepted, retry later")
	// ErrSourceClosed is returned by Submit after the source stopped; the
	// reading was not confirmed.
	ErrSourceClosed = errors.New("coldanchor: local source closed")
)

// LocalSource lets Go callers feed readings into a Runtime without a broker.
// Submit blocks until the reading is durably logged or refused.
type LocalSource struct {
	mu      sync.Mutex
	out     chan<- Delivery
	started chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewLocalSource() *LocalSource {
	return &LocalSource{started: make(chan struct{}), stopped: make(chan struct{})}
}

func (s *LocalSource) Start(out chan<- Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out != nil {
		return errors.New("coldanchor: local source already started")
	}
	s.out = out
	close(s.started)
	return nil
}

func (s *LocalSource) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

// Submit delivers one raw reading. routingKey follows the broker layout, e.g.
// coldchain/batch321/sensor.
func (s *LocalSource) Submit(ctx context.Context, routingKey string, body []byte) error {
	select {
	case <-s.stopped:
		return ErrSourceClosed
	default:
	}

	select {
	case <-s.started:
	case <-s.stopped:
		return ErrSourceClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	result := make(chan error, 1)
	settle := func(err error) func() error {
		return func() error {
			result <- err
			return nil
		}
	}
	d := Delivery{
		RoutingKey: routingKey,
		Body:       append([]byte(nil), body...),
		Ack:        settle(nil),
		Reject:     settle(ErrRejected),
		Requeue:    settle(ErrBackpressure),
	}

	select {
	case s.out <- d:
	case <-s.stopped:
		return ErrSourceClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-s.stopped:
		// Deliveries still buffered at shutdown are never settled.
		select {
		case err := <-result:
			return err
		default:
			return ErrSourceClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
