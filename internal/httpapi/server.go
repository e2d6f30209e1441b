package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/goliatone/go-recall-search/recall"
	"github.com/goliatone/go-recall-search/search"
)

// HeaderCacheStatus reports whether a search page came from the micro-cache.
const HeaderCacheStatus = "X-Cache"

const defaultMaxBodyBytes = 64 << 10

// Searcher runs paginated searches.
type Searcher interface {
	Search(ctx context.Context, req search.Request, header http.Header) (*search.Response, error)
}

// Detailer looks up single records.
type Detailer interface {
	Get(ctx context.Context, id string, header http.Header) (*search.DetailResponse, error)
}

// Options wires the router.
type Options struct {
	Search  Searcher
	Detail  Detailer
	Health  func(ctx context.Context) error
	Metrics http.Handler
	Logger  *slog.Logger
	// MaxBodyBytes caps search request bodies. Zero uses 64KiB.
	MaxBodyBytes int64
}

type handler struct {
	search  Searcher
	detail  Detailer
	health  func(ctx context.Context) error
	logger  *slog.Logger
	maxBody int64
}

// NewRouter builds the HTTP surface of the service.
func NewRouter(opts Options) http.Handler {
	h := &handler{
		search:  opts.Search,
		detail:  opts.Detail,
		health:  opts.Health,
		logger:  opts.Logger,
		maxBody: opts.MaxBodyBytes,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.maxBody <= 0 {
		h.maxBody = defaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Post("/search", h.handleSearch)
	r.Get("/record/{id}", h.handleRecord)

	return r
}

type searchBody struct {
	Items      []recall.Record `json:"items"`
	NextCursor *string         `json:"nextCursor"`
}

func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req search.Request

	if err := decodeSearch(http.MaxBytesReader(w, r.Body, h.maxBody), &req); err != nil {
		h.writeError(w, r, search.NewClientError(search.CodeInvalidFilter,
			"request body must be a single JSON search object", err))
		return
	}

	resp, err := h.search.Search(r.Context(), req, r.Header)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp.Conditional.Apply(w.Header())
	if resp.CacheHit {
		w.Header().Set(HeaderCacheStatus, "hit")
	} else {
		w.Header().Set(HeaderCacheStatus, "miss")
	}

	if resp.NotModified() {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.writeJSON(w, r, http.StatusOK, searchBody{Items: resp.Items, NextCursor: resp.NextCursor})
}

// decodeSearch reads one JSON object. An empty body is an empty request;
// anything after the object is rejected.
func decodeSearch(body io.Reader, req *search.Request) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("unexpected data after the search object")
		}
		return err
	}
	return nil
}

func (h *handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	resp, err := h.detail.Get(r.Context(), chi.URLParam(r, "id"), r.Header)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp.Conditional.Apply(w.Header())
	if resp.NotModified() {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.writeJSON(w, r, http.StatusOK, resp.Record)
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "health check failed", "error", err)
			h.writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code          string            `json:"code"`
	Message       string            `json:"message"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	serr, ok := search.AsError(err)
	if !ok {
		serr = search.NewInternalError("the request could not be completed", err)
		h.logger.ErrorContext(r.Context(), "unclassified handler error",
			"request_id", middleware.GetReqID(r.Context()),
			"correlation_id", serr.CorrelationID,
			"error", err,
		)
	}

	h.writeJSON(w, r, serr.Status, errorBody{Error: errorDetail{
		Code:          serr.Code,
		Message:       serr.Message,
		CorrelationID: serr.CorrelationID,
		Fields:        serr.Fields(),
	}})
}

func (h *handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WarnContext(r.Context(), "writing response failed", "error", err)
	}
}
