package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/ghalamif/ColdAnchor/internal/adapters/metadata"
	"github.com/ghalamif/ColdAnchor/internal/app/httpapi"
	"github.com/ghalamif/ColdAnchor/internal/app/pipeline"
	"github.com/ghalamif/ColdAnchor/internal/app/verify"
	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

type quietObs struct{ errs int }

func (q *quietObs) LogInfo(string, ...ports.Field) {}
func (q *quietObs) LogError(string, error, ...ports.Field) { q.errs++ }
func (q *quietObs) LogCritical(string, error, ...ports.Field) {}
func (q *quietObs) IncCounter(string, float64, ...string) {}
func (q *quietObs) ObserveLatency(string, float64) {}
func (q *quietObs) SetGauge(string, float64) {}
func (q *quietObs) RecordRejected(string, error) {}

type stubVerifier struct {
	reports map[string]verify.Report
	err     error
}

func (s *stubVerifier) Verify(_ context.Context, key string) (verify.Report, error) {
	if s.err != nil {
		return verify.Report{}, s.err
	}
	rep, ok := s.reports[key]
	if !ok {
		return verify.Report{}, domain.ErrNotFound
	}
	return rep, nil
}

type stubStranded struct {
	batches []pipeline.StrandedBatch
	retries int
}

func (s *stubStranded) Stranded() []pipeline.StrandedBatch { return s.batches }

func (s *stubStranded) RetryStranded(context.Context) int {
	s.retries++
	s.batches = nil
	return 0
}

func testServer(t *testing.T) (*mux.Router, *stubVerifier, *stubStranded, *quietObs) {
	t.Helper()
	meta := metadata.NewMemory()
	err := meta.SaveBatch(context.Background(), domain.AnchorRecord{
		BatchKey:    "batch321",
		ContentID:   "QmTest",
		MerkleRoot:  domain.Digest{0xab},
		RecordCount: 4,
		CreatedAt:   time.Date(2025, 7, 31, 2, 9, 29, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	v := &stubVerifier{reports: map[string]verify.Report{
		"batch321": {BatchKey: "batch321", RecordCount: 4},
		"tampered": {BatchKey: "tampered", Mismatches: []verify.Mismatch{{Kind: verify.RootHash, Index: -1}}},
	}}
	st := &stubStranded{batches: []pipeline.StrandedBatch{{ID: "s-1", BatchID: "k_20250731T020929.000000000Z", Attempts: 2}}}
	obs := &quietObs{}
	return httpapi.NewRouter(&httpapi.Handler{Metadata: meta, Verifier: v, Stranded: st, Obs: obs}), v, st, obs
}

func serve(r *mux.Router, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)
	return res
}

func TestGetBatch(t *testing.T) {
	router, _, _, _ := testServer(t)

	res := serve(router, http.MethodGet, "/batches/batch321")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ipfs_cid"] != "QmTest" || body["record_count"] != float64(4) {
		t.Fatalf("unexpected body %v", body)
	}
	if !strings.HasPrefix(body["merkle_root"].(string), "ab00") {
		t.Fatalf("root not rendered as hex: %v", body["merkle_root"])
	}
	if body["created_at"] != "2025-07-31T02:09:29Z" {
		t.Fatalf("unexpected created_at %v", body["created_at"])
	}
}

func TestGetBatchNotFound(t *testing.T) {
	router, _, _, _ := testServer(t)
	if res := serve(router, http.MethodGet, "/batches/ghost"); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestVerifyStatusCodes(t *testing.T) {
	router, v, _, obs := testServer(t)

	if res := serve(router, http.MethodGet, "/batches/batch321/verify"); res.Code != http.StatusOK {
		t.Fatalf("intact batch: expected 200, got %d", res.Code)
	}
	res := serve(router, http.MethodGet, "/batches/tampered/verify")
	if res.Code != http.StatusConflict {
		t.Fatalf("tampered batch: expected 409, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"ok":false`) {
		t.Fatalf("expected ok=false in %s", res.Body.String())
	}
	if obs.errs != 1 {
		t.Fatalf("expected mismatch logged")
	}

	v.err = errors.New("ledger offline")
	if res := serve(router, http.MethodGet, "/batches/batch321/verify"); res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
}

func TestStrandedEndpoints(t *testing.T) {
	router, _, st, _ := testServer(t)

	res := serve(router, http.MethodGet, "/stranded")
	var list []pipeline.StrandedBatch
	if err := json.Unmarshal(res.Body.Bytes(), &list); err != nil || len(list) != 1 || list[0].Attempts != 2 {
		t.Fatalf("unexpected stranded list %s (%v)", res.Body.String(), err)
	}

	if res := serve(router, http.MethodGet, "/stranded/retry"); res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("retry must be POST, got %d", res.Code)
	}
	res = serve(router, http.MethodPost, "/stranded/retry")
	if res.Code != http.StatusOK || st.retries != 1 {
		t.Fatalf("expected one retry, got %d/%d", res.Code, st.retries)
	}
}

func TestStrandedWithoutIngest(t *testing.T) {
	router := httpapi.NewRouter(&httpapi.Handler{Metadata: metadata.NewMemory(), Obs: &quietObs{}})
	if res := serve(router, http.MethodGet, "/stranded"); res.Code != http.StatusOK || strings.TrimSpace(res.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %s", res.Code, res.Body.String())
	}
	if res := serve(router, http.MethodPost, "/stranded/retry"); res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	router, _, _, _ := testServer(t)
	if res := serve(router, http.MethodGet, "/healthz"); res.Code != http.StatusOK {
		t.Fatalf("healthz: %d", res.Code)
	}
	if res := serve(router, http.MethodGet, "/metrics"); res.Code != http.StatusOK {
		t.Fatalf("metrics: %d", res.Code)
	}
}
