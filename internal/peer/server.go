// Package peer exchanges ops with other replicas over HTTP.
//
// A peer serves its state vector and op log; a Client pulls the ops it is
// missing from a remote peer and pushes the ops the remote is missing. Both
// directions end in replica.Merge, so the transport never writes fields.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/roach88/lanpos/internal/pos"
	"github.com/roach88/lanpos/internal/replica"
	"github.com/roach88/lanpos/internal/value"
)

const maxBodyBytes = 16 << 20

// Document is the replica surface the router serves.
type Document interface {
	PeerID() string
	StateVector(ctx context.Context) (map[string]int64, error)
	OpsSince(ctx context.Context, vector map[string]int64) ([]replica.Op, error)
	Merge(ctx context.Context, ops []replica.Op) (int, error)
	Collection(name string) *replica.Collection
}

// VectorResponse is the body of GET /v1/vector.
type VectorResponse struct {
	Peer   string           `json:"peer"`
	Vector map[string]int64 `json:"vector"`
}

// OpsPayload carries ops in both directions.
type OpsPayload struct {
	Ops []replica.Op `json:"ops"`
}

// MergeResponse is the body of POST /v1/ops.
type MergeResponse struct {
	Received int `json:"received"`
	Applied  int `json:"applied"`
}

// RecordView is one materialized record in GET /v1/collections/{name}.
type RecordView struct {
	ID     string    `json:"id"`
	Fields value.Map `json:"fields"`
}

// ProblemDetail is an RFC 7807 error body.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

var collections = []string{
	pos.CollectionUsers,
	pos.CollectionCategories,
	pos.CollectionProducts,
	pos.CollectionOrders,
}

type routerConfig struct {
	logger     *slog.Logger
	rateLimit  int
	rateWindow time.Duration
}

// RouterOption configures NewRouter.
type RouterOption func(*routerConfig)

// WithRouterLogger sets the request logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(c *routerConfig) {
		c.logger = l
	}
}

// WithRateLimit limits each remote address to n requests per window.
func WithRateLimit(n int, window time.Duration) RouterOption {
	return func(c *routerConfig) {
		c.rateLimit = n
		c.rateWindow = window
	}
}

type handler struct {
	doc    Document
	logger *slog.Logger
}

// NewRouter returns the peer HTTP API for doc.
func NewRouter(doc Document, opts ...RouterOption) http.Handler {
	cfg := routerConfig{
		logger:     slog.Default(),
		rateLimit:  600,
		rateWindow: time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h := &handler{doc: doc, logger: cfg.logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httprate.Limit(cfg.rateLimit, cfg.rateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem(w, http.StatusTooManyRequests, "Too Many Requests", "")
		}),
	))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/vector", h.handleVector)
		r.Get("/ops", h.handleOps)
		r.Post("/ops", h.handleMerge)
		r.Get("/collections/{name}", h.handleCollection)
	})
	return r
}

func (h *handler) handleVector(w http.ResponseWriter, r *http.Request) {
	vector, err := h.doc.StateVector(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VectorResponse{Peer: h.doc.PeerID(), Vector: vector})
}

func (h *handler) handleOps(w http.ResponseWriter, r *http.Request) {
	since := map[string]int64{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &since); err != nil {
			problem(w, http.StatusBadRequest, "Invalid State Vector", err.Error())
			return
		}
	}
	ops, err := h.doc.OpsSince(r.Context(), since)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if ops == nil {
		ops = []replica.Op{}
	}
	writeJSON(w, http.StatusOK, OpsPayload{Ops: ops})
}

func (h *handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	var payload OpsPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&payload); err != nil {
		problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	applied, err := h.doc.Merge(r.Context(), payload.Ops)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if applied > 0 {
		h.logger.Info("ops received", "remote", r.RemoteAddr, "received", len(payload.Ops), "applied", applied)
	}
	writeJSON(w, http.StatusOK, MergeResponse{Received: len(payload.Ops), Applied: applied})
}

func (h *handler) handleCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !slices.Contains(collections, name) {
		problem(w, http.StatusNotFound, "Not Found", "unknown collection "+name)
		return
	}
	records, err := h.doc.Collection(name).Records(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	views := make([]RecordView, len(records))
	for i, rec := range records {
		views[i] = RecordView{ID: rec.ID, Fields: rec.Fields}
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, replica.ErrInvalidOp):
		problem(w, http.StatusBadRequest, "Invalid Op", err.Error())
	case errors.Is(err, replica.ErrUnavailable):
		problem(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
	default:
		h.logger.Error("peer request failed", "error", err)
		problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{Title: title, Status: status, Detail: detail})
}
