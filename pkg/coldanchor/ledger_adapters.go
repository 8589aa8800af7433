package coldanchor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/ColdAnchor/internal/adapters/ledger"
)

// ErrChannelLedgerClosed is returned when a channel ledger is submitted to
// after being closed.
var ErrChannelLedgerClosed = errors.New("coldanchor: channel ledger closed")

// AnchorFunc receives every batch submitted for anchoring.
type AnchorFunc func(ctx context.Context, sub AnchorSubmission) error

// NewCallbackLedger adapts an AnchorFunc into a Ledger so callers can anchor
// to their own system. Accepted submissions are also kept in memory so
// history reads and verification work.
func NewCallbackLedger(name string, fn AnchorFunc) Ledger {
	if name == "" {
		name = "callback"
	}
	return &callbackLedger{name: name, fn: fn, mem: ledger.NewMemory()}
}

// NewChannelLedger exposes submissions on a channel; it returns the ledger,
// the read-only channel and a stop function that the caller should invoke
// during shutdown. After stop, Submit fails; the channel is left open.
func NewChannelLedger(name string, buffer int) (Ledger, <-chan AnchorSubmission, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan AnchorSubmission, buffer)
	l := &channelLedger{
		ch:     ch,
		closed: make(chan struct{}),
	}
	l.callbackLedger = callbackLedger{name: name, fn: l.send, mem: ledger.NewMemory()}
	return l, ch, l.close
}

type callbackLedger struct {
	name string
	fn   AnchorFunc
	mem  *ledger.Memory
}

func (l *callbackLedger) Submit(ctx context.Context, sub AnchorSubmission) error {
	if l.fn == nil {
		return fmt.Errorf("callback ledger %q: nil handler", l.name)
	}
	if _, done := l.mem.Anchored(sub.BatchID); done {
		return nil
	}
	if err := l.fn(ctx, sub); err != nil {
		return err
	}
	return l.mem.Submit(ctx, sub)
}

func (l *callbackLedger) History(ctx context.Context, batchKey string) ([]LedgerEntry, error) {
	return l.mem.History(ctx, batchKey)
}

func (l *callbackLedger) Name() string { return l.name }

type channelLedger struct {
	callbackLedger
	ch     chan AnchorSubmission
	closed chan struct{}
	once   sync.Once
}

func (l *channelLedger) send(ctx context.Context, sub AnchorSubmission) error {
	select {
	case <-l.closed:
		return ErrChannelLedgerClosed
	default:
	}
	select {
	case <-l.closed:
		return ErrChannelLedgerClosed
	case <-ctx.Done():
		return ctx.Err()
	case l.ch <- sub:
		return nil
	}
}

func (l *channelLedger) close() {
	l.once.Do(func() {
		close(l.closed)
	})
}
