package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// Dialect selects placeholder style and the idempotent insert form.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// SQLStore keeps one row per anchored batch key.
type SQLStore struct {
	db        *sql.DB
	dialect   Dialect
	tableName string
}

// Open connects with the driver registered for the dialect.
func Open(dialect Dialect, dsn, table string) (*SQLStore, error) {
	switch dialect {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("unknown metadata dialect %q", dialect)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}
	return NewSQLStore(db, dialect, table), nil
}

func NewSQLStore(db *sql.DB, dialect Dialect, table string) *SQLStore {
	if table == "" {
		table = "batches"
	}
	return &SQLStore{db: db, dialect: dialect, tableName: table}
}

func (s *SQLStore) Name() string { return string(s.dialect) }

func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

// EnsureSchema creates the batches table if it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	q := "CREATE TABLE IF NOT EXISTS " + s.tableName + ` (
	batch_key TEXT PRIMARY KEY,
	ipfs_cid TEXT NOT NULL,
	merkle_root TEXT NOT NULL,
	record_count INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
)`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("%w: create schema: %w", domain.ErrMetadataStore, err)
	}
	return nil
}

func (s *SQLStore) SaveBatch(ctx context.Context, rec domain.AnchorRecord) error {
	var q string
	switch s.dialect {
	case SQLite:
		q = "INSERT OR IGNORE INTO " + s.tableName +
			" (batch_key, ipfs_cid, merkle_root, record_count, created_at) VALUES (?,?,?,?,?)"
	default:
		q = "INSERT INTO " + s.tableName +
			" (batch_key, ipfs_cid, merkle_root, record_count, created_at) VALUES ($1,$2,$3,$4,$5)" +
			" ON CONFLICT (batch_key) DO NOTHING"
	}

	_, err := s.db.ExecContext(ctx, q,
		rec.BatchKey,
		rec.ContentID,
		rec.MerkleRoot.String(),
		rec.RecordCount,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: save %s: %w", domain.ErrMetadataStore, rec.BatchKey, err)
	}
	return nil
}

func (s *SQLStore) GetBatch(ctx context.Context, batchKey string) (domain.AnchorRecord, error) {
	ph := "$1"
	if s.dialect == SQLite {
		ph = "?"
	}
	q := "SELECT batch_key, ipfs_cid, merkle_root, record_count, created_at FROM " +
		s.tableName + " WHERE batch_key = " + ph

	var (
		rec     domain.AnchorRecord
		root    string
		created time.Time
	)
	err := s.db.QueryRowContext(ctx, q, batchKey).
		Scan(&rec.BatchKey, &rec.ContentID, &root, &rec.RecordCount, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("batch %s: %w", batchKey, domain.ErrNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("%w: get %s: %w", domain.ErrMetadataStore, batchKey, err)
	}
	d, err := domain.ParseDigest(root)
	if err != nil {
		return rec, fmt.Errorf("%w: batch %s root: %w", domain.ErrMetadataStore, batchKey, err)
	}
	rec.MerkleRoot = d
	rec.CreatedAt = created.UTC()
	return rec, nil
}

var _ ports.MetadataStore = (*SQLStore)(nil)
