package dedup

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

var fpPrefix = []byte("fp/")

// LevelDBIndex persists seen fingerprints so duplicates are caught across
// restarts.
type LevelDBIndex struct {
	conn *leveldb.DB
	sync bool
}

// OpenLevelDB opens (or creates) the index at path.
func OpenLevelDB(path string, syncWrites bool) (*LevelDBIndex, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open dedup index %s: %w", path, err)
	}
	return &LevelDBIndex{conn: db, sync: syncWrites}, nil
}

func fpKey(d domain.Digest) []byte {
	k := make([]byte, 0, len(fpPrefix)+domain.DigestSize)
	k = append(k, fpPrefix...)
	return append(k, d[:]...)
}

func (l *LevelDBIndex) Has(d domain.Digest) (bool, error) {
	ok, err := l.conn.Has(fpKey(d), nil)
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return ok, nil
}

func (l *LevelDBIndex) Add(d domain.Digest) error {
	if err := l.conn.Put(fpKey(d), []byte{1}, &opt.WriteOptions{Sync: l.sync}); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}

// Len counts stored fingerprints.
func (l *LevelDBIndex) Len() (int, error) {
	it := l.conn.NewIterator(nil, nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}

func (l *LevelDBIndex) Close() error {
	return l.conn.Close()
}

var _ ports.DedupIndex = (*LevelDBIndex)(nil)
