package cas

import (
	"context"
	"fmt"
	"io"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

type ipfsAPI interface {
	Add(r io.Reader, options ...shell.AddOpts) (string, error)
	Cat(path string) (io.ReadCloser, error)
}

// IPFSStore adds artifacts through a node's HTTP API and pins them.
type IPFSStore struct {
	sh ipfsAPI
}

// NewIPFSStore talks to the API at url, e.g. localhost:5001.
func NewIPFSStore(url string, timeout time.Duration) *IPFSStore {
	sh := shell.NewShell(url)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}
	return &IPFSStore{sh: sh}
}

func (s *IPFSStore) Name() string { return "ipfs" }

func (s *IPFSStore) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cid, err := s.sh.Add(r, shell.Pin(true))
	if err != nil {
		return "", fmt.Errorf("%w: ipfs add %s: %w", domain.ErrContentStore, name, err)
	}
	return cid, nil
}

func (s *IPFSStore) Get(ctx context.Context, cid string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := s.sh.Cat(cid)
	if err != nil {
		return nil, fmt.Errorf("%w: ipfs cat %s: %w", domain.ErrContentStore, cid, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: ipfs read %s: %w", domain.ErrContentStore, cid, err)
	}
	return b, nil
}

var _ ports.ContentStore = (*IPFSStore)(nil)
