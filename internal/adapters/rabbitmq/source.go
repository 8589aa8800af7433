package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// Source consumes the raw exchange with manual acknowledgement and
// reconnects when the broker drops the channel.
type Source struct {
	cfg Config
	obs ports.Observability

	mu      sync.Mutex
	conn    *amqp.Connection
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewSource(cfg Config, obs ports.Observability) (*Source, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{cfg: cfg, obs: obs}, nil
}

func (s *Source) Start(out chan<- ports.Delivery) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("amqp source already started")
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	conn, deliveries, err := s.connect()
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.consume(ctx, deliveries, out)
	return nil
}

func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	conn := s.conn
	s.started = false
	s.cancel = nil
	s.conn = nil
	s.mu.Unlock()

	cancel()
	var err error
	if conn != nil && !conn.IsClosed() {
		if e := conn.Close(); e != nil && !errors.Is(e, amqp.ErrClosed) {
			err = e
		}
	}
	s.wg.Wait()
	return err
}

func (s *Source) connect() (*amqp.Connection, <-chan amqp.Delivery, error) {
	conn, err := amqp.Dial(s.cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}

	fail := func(step string, err error) (*amqp.Connection, <-chan amqp.Delivery, error) {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp %s: %w", step, err)
	}

	if err := ch.ExchangeDeclare(s.cfg.Exchange, s.cfg.ExchangeType, true, false, false, false, nil); err != nil {
		return fail("exchange declare", err)
	}
	durable := s.cfg.Queue != ""
	q, err := ch.QueueDeclare(s.cfg.Queue, durable, false, !durable, false, nil)
	if err != nil {
		return fail("queue declare", err)
	}
	if err := ch.QueueBind(q.Name, s.cfg.BindingKey, s.cfg.Exchange, false, nil); err != nil {
		return fail("queue bind", err)
	}
	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		return fail("qos", err)
	}
	deliveries, err := ch.Consume(q.Name, s.cfg.Consumer, false, false, false, false, nil)
	if err != nil {
		return fail("consume", err)
	}

	s.obs.LogInfo("amqp_connected",
		ports.Field{Key: "exchange", Value: s.cfg.Exchange},
		ports.Field{Key: "queue", Value: q.Name})
	return conn, deliveries, nil
}

func (s *Source) consume(ctx context.Context, deliveries <-chan amqp.Delivery, out chan<- ports.Delivery) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				deliveries = s.reconnect(ctx)
				if deliveries == nil {
					return
				}
				continue
			}
			select {
			case <-ctx.Done():
				// Unacked; the broker redelivers once the channel closes.
				return
			case out <- toDelivery(d):
			}
		}
	}
}

func (s *Source) reconnect(ctx context.Context) <-chan amqp.Delivery {
	s.obs.LogError("amqp_channel_closed", amqp.ErrClosed)

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = s.cfg.Reconnect
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(bo.NextBackOff()):
		}
		conn, deliveries, err := s.connect()
		if err != nil {
			s.obs.LogError("amqp_reconnect_failed", err)
			continue
		}
		s.mu.Lock()
		if !s.started {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conn = conn
		s.mu.Unlock()
		return deliveries
	}
}

func toDelivery(d amqp.Delivery) ports.Delivery {
	return ports.Delivery{
		RoutingKey: d.RoutingKey,
		Body:       d.Body,
		Ack:        func() error { return d.Ack(false) },
		Reject:     func() error { return d.Nack(false, false) },
		Requeue:    func() error { return d.Nack(false, true) },
	}
}

var _ ports.Source = (*Source)(nil)
