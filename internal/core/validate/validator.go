// Package validate turns raw broker messages into SensorEvents, rejecting
// anything that must not enter a batch.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// Config selects which routing key segment names the batch. A nil
// SegmentIndex means segment 1; an explicit 0 selects the first segment.
type Config struct {
	Separator    string `yaml:"separator"`
	SegmentIndex *int   `yaml:"segment_index"`
}

// Segment is a helper for building a Config in code.
func Segment(i int) *int { return &i }

func (c *Config) ApplyDefaults() {
	if c.Separator == "" {
		c.Separator = "/"
	}
	if c.SegmentIndex == nil {
		c.SegmentIndex = Segment(1)
	}
}

type Validator struct {
	sep   string
	index int
}

func New(cfg Config) *Validator {
	cfg.ApplyDefaults()
	return &Validator{sep: cfg.Separator, index: *cfg.SegmentIndex}
}

var (
	maxScaled = decimal.NewFromInt(math.MaxInt64)
	minScaled = decimal.NewFromInt(math.MinInt64)
)

// Validate returns a SensorEvent or a *domain.RejectionError.
func (v *Validator) Validate(routingKey string, body []byte) (domain.SensorEvent, error) {
	var ev domain.SensorEvent

	key, err := v.BatchKey(routingKey)
	if err != nil {
		return ev, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return ev, reject(domain.ErrInvalidPayload, "", "body is not a JSON object: "+err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ev, reject(domain.ErrInvalidPayload, "", "trailing data after JSON object")
	}

	for _, f := range []string{"temp", "hum", "ts"} {
		if val, ok := payload[f]; !ok || val == nil {
			return ev, reject(domain.ErrInvalidPayload, f, "missing")
		}
	}

	temp, err := scaled(payload["temp"], "temp")
	if err != nil {
		return ev, err
	}
	hum, err := scaled(payload["hum"], "hum")
	if err != nil {
		return ev, err
	}
	ts, err := parseTimestamp(payload["ts"])
	if err != nil {
		return ev, err
	}
	location, err := optionalString(payload, "location")
	if err != nil {
		return ev, err
	}
	product, err := optionalString(payload, "productName")
	if err != nil {
		return ev, err
	}

	return domain.SensorEvent{
		BatchKey:    key,
		Timestamp:   ts,
		Temperature: temp,
		Humidity:    hum,
		Location:    location,
		ProductName: product,
	}, nil
}

// BatchKey extracts the configured segment of a routing key,
// e.g. coldchain/batch321/sensor -> batch321.
func (v *Validator) BatchKey(routingKey string) (string, error) {
	parts := strings.Split(routingKey, v.sep)
	if v.index < 0 || v.index >= len(parts) {
		return "", reject(domain.ErrInvalidPayload, "routing_key", fmt.Sprintf("%q has no segment %d", routingKey, v.index))
	}
	key := strings.TrimSpace(parts[v.index])
	if key == "" {
		return "", reject(domain.ErrInvalidPayload, "routing_key", fmt.Sprintf("%q has an empty batch segment", routingKey))
	}
	return key, nil
}

// scaled converts a JSON number to hundredths without passing through float64.
func scaled(val any, field string) (int64, error) {
	num, ok := val.(json.Number)
	if !ok {
		return 0, reject(domain.ErrInvalidType, field, fmt.Sprintf("expected number, got %T", val))
	}
	d, err := decimal.NewFromString(num.String())
	if err != nil {
		return 0, reject(domain.ErrInvalidType, field, err.Error())
	}
	d = d.Shift(domain.ValueScale).Round(0)
	if d.GreaterThan(maxScaled) || d.LessThan(minScaled) {
		return 0, reject(domain.ErrInvalidType, field, fmt.Sprintf("%s is out of range", num))
	}
	return d.IntPart(), nil
}

func parseTimestamp(val any) (time.Time, error) {
	switch ts := val.(type) {
	case string:
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(ts))
		if err != nil {
			return time.Time{}, reject(domain.ErrInvalidPayload, "ts", err.Error())
		}
		return t.UTC().Truncate(time.Second), nil
	case json.Number:
		secs, err := ts.Int64()
		if err != nil {
			return time.Time{}, reject(domain.ErrInvalidPayload, "ts", "epoch seconds must be an integer")
		}
		return time.Unix(secs, 0).UTC(), nil
	default:
		return time.Time{}, reject(domain.ErrInvalidPayload, "ts", fmt.Sprintf("unsupported type %T", val))
	}
}

func optionalString(payload map[string]any, field string) (string, error) {
	val, ok := payload[field]
	if !ok || val == nil {
		return "", nil
	}
	s, ok := val.(string)
	if !ok {
		return "", reject(domain.ErrInvalidType, field, fmt.Sprintf("expected string, got %T", val))
	}
	return s, nil
}

func reject(kind error, field, detail string) error {
	return &domain.RejectionError{Kind: kind, Field: field, Detail: detail}
}

var _ ports.Validator = (*Validator)(nil)
