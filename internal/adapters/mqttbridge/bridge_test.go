package mqttbridge

import (
	"context"
	"errors"
	"testing"

	"github.com/ghalamif/ColdAnchor/internal/ports"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", `{"temp":3.5,"hum":50,"ts":"2025-07-31T02:09:29Z"}`, `{"hum":50,"temp":3.5,"ts":"2025-07-31T02:09:29Z"}`, false},
		{"single quoted", `'{"temp":1,"hum":2,"ts":3}'`, `{"hum":2,"temp":1,"ts":3}`, false},
		{"double quoted with spaces", "  \" {\"temp\":1,\"hum\":2,\"ts\":3} \"  ", `{"hum":2,"temp":1,"ts":3}`, false},
		{"empty after strip", `''`, "", true},
		{"blank", "   ", "", true},
		{"not json", `temp=3`, "", true},
		{"missing ts", `{"temp":1,"hum":2}`, "", true},
	}
	for _, tc := range cases {
		got, err := Normalize([]byte(tc.in))
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got %s", tc.name, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if string(got) != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

type stubPublisher struct {
	keys   []string
	bodies []string
	err    error
}

func (s *stubPublisher) Publish(_ context.Context, key string, body []byte) error {
	if s.err != nil {
		return s.err
	}
	s.keys = append(s.keys, key)
	s.bodies = append(s.bodies, string(body))
	return nil
}

type countingObs struct {
	ports.Observability
	counters map[string]float64
}

func (c *countingObs) IncCounter(name string, v float64, _ ...string) { c.counters[name] += v }
func (c *countingObs) LogInfo(string, ...ports.Field)                  {}
func (c *countingObs) LogError(string, error, ...ports.Field)          {}

func TestBridgeForward(t *testing.T) {
	pub := &stubPublisher{}
	obs := &countingObs{counters: map[string]float64{}}
	b := New(Config{}, pub, obs)

	b.Forward("coldchain/batch321/sensor", []byte(`'{"temp":3.5,"hum":50,"ts":1}'`))
	b.Forward("coldchain/batch321/sensor", []byte(`{"temp":3.5}`))

	if len(pub.keys) != 1 || pub.keys[0] != "coldchain/batch321/sensor" {
		t.Fatalf("expected one forward with the topic as routing key, got %v", pub.keys)
	}
	if obs.counters["coldanchor_bridge_forwarded_total"] != 1 || obs.counters["coldanchor_bridge_dropped_total"] != 1 {
		t.Fatalf("unexpected counters %v", obs.counters)
	}

	pub.err = errors.New("broker down")
	b.Forward("coldchain/batch321/sensor", []byte(`{"temp":1,"hum":2,"ts":3}`))
	if obs.counters["coldanchor_bridge_dropped_total"] != 2 {
		t.Fatalf("publish failure must count as dropped, got %v", obs.counters)
	}
}
