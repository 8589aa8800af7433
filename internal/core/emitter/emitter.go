// Package emitter persists sealed batches as durable JSON artifacts.
package emitter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ghalamif/ColdAnchor/internal/core/retry"
	"github.com/ghalamif/ColdAnchor/internal/domain"
)

type Config struct {
	Dir   string
	Retry retry.Policy
}

type Emitter struct {
	cfg       Config
	writeFile func(path string, data []byte) error
	notify    func(err error, next time.Duration)
}

func New(cfg Config) (*Emitter, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("artifact dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Emitter{cfg: cfg, writeFile: atomicWrite}, nil
}

// OnRetry installs a callback invoked before every retry of a failed write.
func (e *Emitter) OnRetry(fn func(err error, next time.Duration)) {
	e.notify = fn
}

// Path is where the artifact for b lives.
func (e *Emitter) Path(b *domain.Batch) string {
	return filepath.Join(e.cfg.Dir, b.ID()+".json")
}

// Emit writes the batch artifact, retrying transient failures. Emitting the
// same batch again rewrites identical bytes to the same path.
func (e *Emitter) Emit(ctx context.Context, b *domain.Batch) (domain.ArtifactHandle, error) {
	data, err := Encode(b)
	if err != nil {
		return domain.ArtifactHandle{}, err
	}
	path := e.Path(b)

	_, err = retry.Do(ctx, e.cfg.Retry, e.notify, func() (struct{}, error) {
		return struct{}{}, e.writeFile(path, data)
	})
	if err != nil {
		return domain.ArtifactHandle{}, fmt.Errorf("%w: %s: %w", domain.ErrArtifactWrite, path, err)
	}

	return domain.ArtifactHandle{
		BatchKey:    b.Key,
		BatchID:     b.ID(),
		Path:        path,
		MerkleRoot:  b.MerkleRoot,
		RecordCount: len(b.Records),
		CreatedAt:   b.SealedAt,
	}, nil
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
