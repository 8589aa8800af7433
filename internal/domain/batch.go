package domain

import "time"

// BatchIDLayout formats the seal time inside a batch ID and artifact name.
const BatchIDLayout = "20060102T150405.000000000Z"

// Batch is a sealed, ordered group of records sharing one batch key.
type Batch struct {
	Key        string
	Records    []HashedRecord
	MerkleRoot Digest
	SealedAt   time.Time
}

// ID names one sealed instance of a batch key, e.g.
// batch321_20250731T020929.000000000Z.
func (b *Batch) ID() string {
	return b.Key + "_" + b.SealedAt.UTC().Format(BatchIDLayout)
}

// Fingerprints returns the record digests in arrival order.
func (b *Batch) Fingerprints() []Digest {
	out := make([]Digest, len(b.Records))
	for i, r := range b.Records {
		out[i] = r.Fingerprint
	}
	return out
}

// ArtifactHandle addresses a durably written batch artifact.
type ArtifactHandle struct {
	BatchKey    string    `json:"batch_key"`
	BatchID     string    `json:"batch_id"`
	Path        string    `json:"path"`
	MerkleRoot  Digest    `json:"merkle_root"`
	RecordCount int       `json:"record_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// AnchorRecord is the metadata row indexed once per batch key.
type AnchorRecord struct {
	BatchKey    string
	ContentID   string
	MerkleRoot  Digest
	RecordCount int
	CreatedAt   time.Time
}

// LedgerEntry is one record as submitted to, and read back from, the ledger.
type LedgerEntry struct {
	BatchKey    string
	Timestamp   int64
	Temperature int64
	Humidity    int64
	Location    string
	ProductName string
	Digest      Digest
}

// AnchorSubmission carries everything the ledger needs to anchor one batch.
type AnchorSubmission struct {
	BatchKey   string
	BatchID    string
	ContentID  string
	MerkleRoot Digest
	Entries    []LedgerEntry
}

// LedgerEntryFromRecord maps a hashed record onto the ledger's field layout.
func LedgerEntryFromRecord(r HashedRecord) LedgerEntry {
	return LedgerEntry{
		BatchKey:    r.BatchKey,
		Timestamp:   r.Timestamp.Unix(),
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Location:    r.Location,
		ProductName: r.ProductName,
		Digest:      r.Fingerprint,
	}
}
