package domain

import (
	"encoding/hex"
	"fmt"
	"time"
)

// ValueScale is the number of decimal places kept for temperature and humidity.
// A reading of 3.5 is stored as 350.
const ValueScale = 2

// SensorEvent is one validated cold-chain reading.
type SensorEvent struct {
	BatchKey    string    `json:"batch_id"`
	Timestamp   time.Time `json:"ts"`
	Temperature int64     `json:"temp"`
	Humidity    int64     `json:"hum"`
	Location    string    `json:"location"`
	ProductName string    `json:"productName"`
}

// DigestSize is the length in bytes of a record or root fingerprint.
const DigestSize = 32

// Digest is a SHA-256 fingerprint.
type Digest [DigestSize]byte

// String renders the digest as lowercase hex.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

func (d Digest) IsZero() bool { return d == Digest{} }

func (d Digest) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a 64 character hex string.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("decode digest: %w", err)
	}
	if len(b) != DigestSize {
		return d, fmt.Errorf("digest must be %d bytes, got %d", DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// HashedRecord is a SensorEvent together with its fingerprint. It is passed by
// value and never mutated once built.
type HashedRecord struct {
	SensorEvent
	Fingerprint Digest `json:"hash"`
}
