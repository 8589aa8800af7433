package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/ColdAnchor/pkg/coldanchor"
)

// Anchors every batch by printing its root instead of talking to a chain.
func main() {
	flow, err := coldanchor.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(_ context.Context, sub coldanchor.AnchorSubmission) error {
		fmt.Printf("%s root=%s cid=%s records=%d\n", sub.BatchID, sub.MerkleRoot, sub.ContentID, len(sub.Entries))
		return nil
	}

	if err := flow.Run(ctx, coldanchor.StreamOutCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
