package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/ColdAnchor"
)

// Consumes readings from the configured broker and anchors them with the
// configured stores. Quiet trucks get their partial batch sealed after -idle.
func main() {
	cfgPath := flag.String("config", "../../data/config.yaml", "configuration file")
	idle := flag.Duration("idle", 0, "seal batches with no arrivals for this long (0 = off)")
	flag.Parse()

	flow, err := coldanchor.Conf(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = flow.
		StreamIN(coldanchor.StreamInIdleFlush(*idle)).
		Run(ctx, coldanchor.StreamOutArtifacts("./batches"))
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime exited: %v", err)
	}
}
