package coldanchor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalSourceSettlement(t *testing.T) {
	src := NewLocalSource()
	out := make(chan Delivery, 1)
	if err := src.Start(out); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := src.Start(out); err == nil {
		t.Fatalf("second start must fail")
	}

	go func() {
		d := <-out
		_ = d.Reject()
		d = <-out
		_ = d.Requeue()
		d = <-out
		_ = d.Ack()
	}()

	ctx := context.Background()
	if err := src.Submit(ctx, "coldchain/k/sensor", []byte("x")); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if err := src.Submit(ctx, "coldchain/k/sensor", []byte("x")); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
	if err := src.Submit(ctx, "coldchain/k/sensor", []byte("x")); err != nil {
		t.Fatalf("expected ack, got %v", err)
	}
}

func TestLocalSourceSubmitHonoursContext(t *testing.T) {
	src := NewLocalSource()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := src.Submit(ctx, "coldchain/k/sensor", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline before start, got %v", err)
	}
	_ = src.Stop()
	if err := src.Submit(context.Background(), "coldchain/k/sensor", nil); !errors.Is(err, ErrSourceClosed) {
		t.Fatalf("expected ErrSourceClosed, got %v", err)
	}
}

func TestChannelLedger(t *testing.T) {
	l, subs, stop := NewChannelLedger("", 1)
	ctx := context.Background()
	sub := AnchorSubmission{BatchKey: "k", BatchID: "k_1", Entries: []LedgerEntry{{BatchKey: "k", Temperature: 350}}}

	if err := l.Submit(ctx, sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := <-subs; got.BatchID != "k_1" {
		t.Fatalf("unexpected submission %+v", got)
	}
	// A repeated submission is already anchored and not re-sent.
	if err := l.Submit(ctx, sub); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	select {
	case <-subs:
		t.Fatalf("duplicate submission forwarded")
	default:
	}
	if hist, _ := l.History(ctx, "k"); len(hist) != 1 {
		t.Fatalf("expected one history entry, got %d", len(hist))
	}

	stop()
	if err := l.Submit(ctx, AnchorSubmission{BatchKey: "k", BatchID: "k_2"}); !errors.Is(err, ErrChannelLedgerClosed) {
		t.Fatalf("expected closed ledger, got %v", err)
	}
}

func TestCallbackLedgerPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	l := NewCallbackLedger("", func(context.Context, AnchorSubmission) error { return boom })
	if l.Name() != "callback" {
		t.Fatalf("unexpected name %s", l.Name())
	}
	if err := l.Submit(context.Background(), AnchorSubmission{BatchKey: "k", BatchID: "k_1"}); !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if hist, _ := l.History(context.Background(), "k"); len(hist) != 0 {
		t.Fatalf("failed submission must not be recorded")
	}
}
