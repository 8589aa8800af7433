package cas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// FileStore addresses blobs by sha256 inside a local directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %w", domain.ErrContentStore, dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) Name() string { return "file" }

func (f *FileStore) Put(ctx context.Context, _ string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, cid, err := readAndAddress(r)
	if err != nil {
		return "", fmt.Errorf("%w: read: %w", domain.ErrContentStore, err)
	}
	path := filepath.Join(f.dir, cid)
	if _, err := os.Stat(path); err == nil {
		return cid, nil
	}

	tmp, err := os.CreateTemp(f.dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrContentStore, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: write %s: %w", domain.ErrContentStore, cid, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: sync %s: %w", domain.ErrContentStore, cid, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrContentStore, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("%w: rename %s: %w", domain.ErrContentStore, cid, err)
	}
	return cid, nil
}

func (f *FileStore) Get(ctx context.Context, cid string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validAddress(cid) {
		return nil, fmt.Errorf("content %q: %w", cid, domain.ErrNotFound)
	}
	b, err := os.ReadFile(filepath.Join(f.dir, cid))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("content %s: %w", cid, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrContentStore, cid, err)
	}
	return b, nil
}

var _ ports.ContentStore = (*FileStore)(nil)
