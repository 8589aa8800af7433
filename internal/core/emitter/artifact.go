package emitter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ghalamif/ColdAnchor/internal/domain"
)

// artifactRecord is the persisted layout of one record. Temperature and
// humidity are hundredths of a unit and ts is epoch seconds, so the canonical
// hash input can be rebuilt from these fields alone.
type artifactRecord struct {
	BatchKey    string `json:"batch_id"`
	Timestamp   int64  `json:"ts"`
	Temperature int64  `json:"temp"`
	Humidity    int64  `json:"hum"`
	Location    string `json:"location"`
	ProductName string `json:"productName"`
	Hash        string `json:"hash"`
}

// Encode renders the batch as an indented JSON array in record order. The
// output depends only on the records, so re-encoding is byte-identical.
func Encode(b *domain.Batch) ([]byte, error) {
	if len(b.Records) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	out := make([]artifactRecord, len(b.Records))
	for i, r := range b.Records {
		out[i] = artifactRecord{
			BatchKey:    r.BatchKey,
			Timestamp:   r.Timestamp.Unix(),
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
			Location:    r.Location,
			ProductName: r.ProductName,
			Hash:        r.Fingerprint.String(),
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses an artifact. Fingerprints are taken from the stored hash
// field as-is; callers that verify must recompute them.
func Decode(data []byte) ([]domain.HashedRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var in []artifactRecord
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	out := make([]domain.HashedRecord, len(in))
	for i, r := range in {
		d, err := domain.ParseDigest(r.Hash)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out[i] = domain.HashedRecord{
			SensorEvent: domain.SensorEvent{
				BatchKey:    r.BatchKey,
				Timestamp:   time.Unix(r.Timestamp, 0).UTC(),
				Temperature: r.Temperature,
				Humidity:    r.Humidity,
				Location:    r.Location,
				ProductName: r.ProductName,
			},
			Fingerprint: d,
		}
	}
	return out, nil
}
