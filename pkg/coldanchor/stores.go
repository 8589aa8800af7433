package coldanchor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ghalamif/ColdAnchor/internal/adapters/cas"
	"github.com/ghalamif/ColdAnchor/internal/adapters/ledger"
	"github.com/ghalamif/ColdAnchor/internal/adapters/metadata"
	"github.com/ghalamif/ColdAnchor/internal/app/verify"
)

// Stores bundles the three publish collaborators built from a Config.
type Stores struct {
	Content  ContentStore
	Metadata MetadataStore
	Ledger   Ledger

	closers []func() error
}

// OpenStores builds the content store, metadata index and ledger selected by
// cfg. Collaborators already set in overrides are used as-is.
func OpenStores(ctx context.Context, cfg *Config, overrides Stores) (*Stores, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	s := &overrides
	s.closers = nil

	if s.Content == nil {
		content, err := openContent(cfg.Content)
		if err != nil {
			return nil, err
		}
		s.Content = content
	}

	if s.Metadata == nil {
		store, err := metadata.Open(cfg.Metadata.Dialect, cfg.Metadata.DSN, cfg.Metadata.Table)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		s.Metadata = store
		s.closers = append(s.closers, store.Close)
	}

	if s.Ledger == nil {
		switch cfg.Ledger.Backend {
		case "ethereum":
			eth, err := ledger.DialEthereum(ctx, cfg.Ledger.Ethereum)
			if err != nil {
				_ = s.Close()
				return nil, err
			}
			s.Ledger = eth
			s.closers = append(s.closers, func() error { eth.Close(); return nil })
		default:
			s.Ledger = ledger.NewMemory()
		}
	}
	return s, nil
}

func openContent(cfg ContentConfig) (ContentStore, error) {
	switch cfg.Backend {
	case "ipfs":
		return cas.NewIPFSStore(cfg.IPFSURL, cfg.IPFSTimeout), nil
	case "s3":
		return cas.NewS3Store(cfg.S3)
	case "file", "":
		return cas.NewFileStore(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown content backend %q", cfg.Backend)
	}
}

// Verifier returns a verifier reading from these stores.
func (s *Stores) Verifier() *verify.Verifier {
	return &verify.Verifier{Metadata: s.Metadata, Content: s.Content, Ledger: s.Ledger}
}

// Close releases connections opened by OpenStores.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
