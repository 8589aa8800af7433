package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ghalamif/ColdAnchor"
)

// Feeds readings in-process and watches anchor submissions on a channel.
func main() {
	flow, err := coldanchor.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	src := coldanchor.NewLocalSource()
	chain, anchored, stopLedger := coldanchor.NewChannelLedger("fanout", 32)
	defer stopLedger()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sub := <-anchored:
				fmt.Printf("[anchored] %s root=%s\n", sub.BatchID, sub.MerkleRoot)
			}
		}
	}()

	go func() {
		start := time.Now().UTC()
		for i := 0; i < 8; i++ {
			body := fmt.Sprintf(`{"temp": 3.%d, "hum": 81.2, "ts": %q, "location": "Hebei", "productName": "Beef"}`,
				i, start.Add(time.Duration(i)*time.Second).Format(time.RFC3339))
			if err := src.Submit(ctx, "coldchain/truck7/sensor", []byte(body)); err != nil {
				log.Printf("submit: %v", err)
			}
		}
	}()

	err = flow.
		StreamIN(coldanchor.StreamInSource(src)).
		Run(ctx, coldanchor.StreamOutLedger(chain))
	if err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		log.Fatalf("runtime error: %v", err)
	}
}
