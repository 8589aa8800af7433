package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ghalamif/ColdAnchor"
	"github.com/ghalamif/ColdAnchor/internal/adapters/mqttbridge"
	"github.com/ghalamif/ColdAnchor/internal/adapters/observability"
	"github.com/ghalamif/ColdAnchor/internal/adapters/rabbitmq"
	"github.com/ghalamif/ColdAnchor/internal/app/pipeline"
	"github.com/ghalamif/ColdAnchor/internal/core/retry"
)

const defaultConfig = "./data/config.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "verify":
		err = verifyCommand(os.Args[2:])
	case "publish":
		err = publishCommand(os.Args[2:])
	case "bridge":
		err = bridgeCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("coldanchor %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfig, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := coldanchor.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfig, "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := coldanchor.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

func verifyCommand(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfig, "Path to configuration file")
	key := fs.String("key", "", "Batch key to verify")
	asJSON := fs.Bool("json", false, "Print the full report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("-key is required")
	}

	cfg, err := coldanchor.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := coldanchor.OpenStores(ctx, cfg, coldanchor.Stores{})
	if err != nil {
		return err
	}
	defer stores.Close()

	rep, err := stores.Verifier().Verify(ctx, *key)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		fmt.Printf("batch=%s cid=%s records=%d root=%s ledger_entries=%d\n",
			rep.BatchKey, rep.ContentID, rep.RecordCount, rep.MerkleRoot, rep.LedgerEntries)
		for _, m := range rep.Mismatches {
			fmt.Printf("  MISMATCH %s index=%d %s\n", m.Kind, m.Index, m.Detail)
		}
	}
	if !rep.OK() {
		return fmt.Errorf("batch %s failed verification with %d mismatches", *key, len(rep.Mismatches))
	}
	fmt.Printf("batch %s verified\n", *key)
	return nil
}

// publishCommand rescans the artifact directory and publishes every batch,
// picking up artifacts whose publish failed or was dropped.
func publishCommand(args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfig, "Path to configuration file")
	dir := fs.String("dir", "", "Artifact directory (defaults to artifacts.dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := coldanchor.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *dir == "" {
		*dir = cfg.Artifacts.Dir
	}
	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := coldanchor.OpenStores(ctx, cfg, coldanchor.Stores{})
	if err != nil {
		return err
	}
	defer stores.Close()

	pub := &pipeline.Publisher{
		Content:  stores.Content,
		Metadata: stores.Metadata,
		Ledger:   stores.Ledger,
		Obs:      observability.NewPromObs(logger),
		Retry: retry.Policy{
			MaxTries:        cfg.Policy.PublishMaxTries,
			InitialInterval: cfg.Policy.RetryInitial,
			MaxInterval:     cfg.Policy.RetryMax,
		},
	}
	n, err := pipeline.PublishDir(ctx, *dir, pub)
	fmt.Printf("published %d artifacts from %s\n", n, *dir)
	return err
}

// bridgeCommand forwards device MQTT messages onto the AMQP exchange.
func bridgeCommand(args []string) error {
	fs := flag.NewFlagSet("bridge", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfig, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := coldanchor.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()
	obs := observability.NewPromObs(logger)

	pub, err := rabbitmq.NewPublisher(cfg.AMQP)
	if err != nil {
		return err
	}
	defer pub.Close()

	bridge := mqttbridge.New(cfg.MQTT, pub, obs)
	if err := bridge.Start(); err != nil {
		return err
	}
	defer bridge.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	obs.LogInfo("bridge_running")
	<-ctx.Done()
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var statsTargets = []string{
	"coldanchor_events_accepted_total",
	"coldanchor_batches_sealed_total",
	"coldanchor_batches_published_total",
	"coldanchor_open_records",
	"coldanchor_batches_stranded",
	"coldanchor_batches_unpublished",
	"coldanchor_publish_queue_length",
	"coldanchor_wal_size_bytes",
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values := make(map[string]float64, len(statsTargets))
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range statsTargets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					values[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] accepted=%.0f sealed=%.0f published=%.0f open=%.0f stranded=%.0f unpublished=%.0f queue=%.0f wal_bytes=%.0f\n",
		time.Now().Format(time.RFC3339),
		values["coldanchor_events_accepted_total"],
		values["coldanchor_batches_sealed_total"],
		values["coldanchor_batches_published_total"],
		values["coldanchor_open_records"],
		values["coldanchor_batches_stranded"],
		values["coldanchor_batches_unpublished"],
		values["coldanchor_publish_queue_length"],
		values["coldanchor_wal_size_bytes"],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`ColdAnchor CLI

Usage:
  coldanchor <command> [flags]

Commands:
  run        Start ingest, batching, publishing and the HTTP API
  validate   Load and validate a config file without starting anything
  verify     Recompute a batch's fingerprints and check index and ledger
  publish    Publish every artifact found in the artifact directory
  bridge     Forward device MQTT messages onto the AMQP exchange
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  coldanchor run -config ./data/config.yaml
  coldanchor verify -config ./data/config.yaml -key batch321
  coldanchor publish -config ./data/config.yaml
  coldanchor stats -url http://localhost:9100/metrics -interval 1s
`)
}
