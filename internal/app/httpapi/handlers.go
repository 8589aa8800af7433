// Package httpapi serves batch lookups, verification and stranded-batch
// control over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/ColdAnchor/internal/app/pipeline"
	"github.com/ghalamif/ColdAnchor/internal/app/verify"
	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

type BatchVerifier interface {
	Verify(ctx context.Context, batchKey string) (verify.Report, error)
}

// StrandedControl is implemented by the ingest pipeline.
type StrandedControl interface {
	Stranded() []pipeline.StrandedBatch
	RetryStranded(ctx context.Context) int
}

type Handler struct {
	Metadata ports.MetadataStore
	Verifier BatchVerifier
	Stranded StrandedControl // nil when ingest is not running in this process
	Obs      ports.Observability
}

type batchView struct {
	BatchKey    string `json:"batch_key"`
	ContentID   string `json:"ipfs_cid"`
	MerkleRoot  string `json:"merkle_root"`
	RecordCount int    `json:"record_count"`
	CreatedAt   string `json:"created_at"`
}

// RegisterRoutes mounts every endpoint on r.
func RegisterRoutes(r *mux.Router, h *Handler) {
	r.HandleFunc("/batches/{key}", h.GetBatch).Methods(http.MethodGet)
	r.HandleFunc("/batches/{key}/verify", h.VerifyBatch).Methods(http.MethodGet)
	r.HandleFunc("/stranded", h.ListStranded).Methods(http.MethodGet)
	r.HandleFunc("/stranded/retry", h.RetryStranded).Methods(http.MethodPost)
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
}

func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	RegisterRoutes(r, h)
	return r
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	rec, err := h.Metadata.GetBatch(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batchView{
		BatchKey:    rec.BatchKey,
		ContentID:   rec.ContentID,
		MerkleRoot:  rec.MerkleRoot.String(),
		RecordCount: rec.RecordCount,
		CreatedAt:   rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}

// VerifyBatch answers 200 for an intact batch and 409 when any check fails.
func (h *Handler) VerifyBatch(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	rep, err := h.Verifier.Verify(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusConflict
		h.Obs.LogError("verify_mismatch", errors.New("batch failed verification"),
			ports.Field{Key: "batch_key", Value: key},
			ports.Field{Key: "mismatches", Value: len(rep.Mismatches)})
	}
	writeJSON(w, status, map[string]any{"ok": rep.OK(), "report": rep})
}

func (h *Handler) ListStranded(w http.ResponseWriter, r *http.Request) {
	if h.Stranded == nil {
		writeJSON(w, http.StatusOK, []pipeline.StrandedBatch{})
		return
	}
	writeJSON(w, http.StatusOK, h.Stranded.Stranded())
}

func (h *Handler) RetryStranded(w http.ResponseWriter, r *http.Request) {
	if h.Stranded == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ingest is not running"})
		return
	}
	left := h.Stranded.RetryStranded(r.Context())
	h.Obs.LogInfo("stranded_retry_requested", ports.Field{Key: "remaining", Value: left})
	writeJSON(w, http.StatusOK, map[string]int{"remaining": left})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	h.Obs.LogError("http_request_failed", err, ports.Field{Key: "path", Value: r.URL.Path})
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
