// Package hasher computes record fingerprints over a canonical encoding.
//
// The canonical form is a JSON object with a fixed key order and integer
// values only:
//
//	{"batch_id":"batch321","ts":1753926974,"temp":350,"hum":8120,"location":"Hebei","productName":"Beef"}
//
// Strings are UTF-8 with JSON's mandatory escapes only (quote, backslash,
// control characters); <, > and & are written literally. U+2028 and U+2029
// are written as \u2028 and \u2029.
//
// Anyone holding an artifact can rebuild it from the record fields and
// recompute the SHA-256 digest.
package hasher

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"

	"github.com/ghalamif/ColdAnchor/internal/domain"
)

type canonicalEvent struct {
	BatchKey    string `json:"batch_id"`
	Timestamp   int64  `json:"ts"`
	Temperature int64  `json:"temp"`
	Humidity    int64  `json:"hum"`
	Location    string `json:"location"`
	ProductName string `json:"productName"`
}

// Canonical returns the bytes that Fingerprint hashes.
func Canonical(e domain.SensorEvent) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a struct of strings and ints cannot fail.
	_ = enc.Encode(canonicalEvent{
		BatchKey:    e.BatchKey,
		Timestamp:   e.Timestamp.Unix(),
		Temperature: e.Temperature,
		Humidity:    e.Humidity,
		Location:    e.Location,
		ProductName: e.ProductName,
	})
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

func Fingerprint(e domain.SensorEvent) domain.Digest {
	return sha256.Sum256(Canonical(e))
}

func Hash(e domain.SensorEvent) domain.HashedRecord {
	return domain.HashedRecord{SensorEvent: e, Fingerprint: Fingerprint(e)}
}

// Combine hashes the concatenation of two raw digests.
func Combine(left, right domain.Digest) domain.Digest {
	var buf [2 * domain.DigestSize]byte
	copy(buf[:domain.DigestSize], left[:])
	copy(buf[domain.DigestSize:], right[:])
	return sha256.Sum256(buf[:])
}
