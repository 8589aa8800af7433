package ports

import "context"

// Delivery is one inbound message. Ack confirms durable incorporation; Reject
// acknowledges and drops a malformed message without redelivery; Requeue
// hands it back to the broker for a later attempt.
type Delivery struct {
	RoutingKey string
	Body       []byte
	Ack        func() error
	Reject     func() error
	Requeue    func() error
}

type Source interface {
	Start(out chan<- Delivery) error
	Stop() error
}

// Publisher forwards a raw body onto the ingest transport.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}
