package search

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-recall-search/cache"
	"github.com/goliatone/go-recall-search/conditional"
	"github.com/goliatone/go-recall-search/cursor"
	"github.com/goliatone/go-recall-search/keyset"
	"github.com/goliatone/go-recall-search/recall"
	"github.com/goliatone/go-recall-search/snapshot"
)

// Outcome labels reported to the Recorder besides error codes.
const (
	OutcomeOK          = "ok"
	OutcomeNotModified = "not_modified"
)

// ErrCacheUnavailable is returned by invalidation when the cache epoch
// cannot be read.
var ErrCacheUnavailable = errors.New("search: cache unavailable")

// Request is the search request body.
type Request struct {
	Product   string   `json:"product,omitempty"`
	Agencies  []string `json:"agencies,omitempty"`
	DateFrom  string   `json:"dateFrom,omitempty"`
	DateTo    string   `json:"dateTo,omitempty"`
	RiskLevel string   `json:"riskLevel,omitempty"`
	Category  string   `json:"category,omitempty"`
	// Limit is nil when omitted, which selects recall.DefaultLimit.
	Limit  *int   `json:"limit,omitempty"`
	Browse bool   `json:"browse,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

// Filter converts the request into a search filter.
func (r Request) Filter() (recall.Filter, error) {
	from, err := recall.ParseDate(r.DateFrom)
	if err != nil {
		return recall.Filter{}, clientError(CodeInvalidFilter, "dateFrom: must be a date in YYYY-MM-DD format", err)
	}
	to, err := recall.ParseDate(r.DateTo)
	if err != nil {
		return recall.Filter{}, clientError(CodeInvalidFilter, "dateTo: must be a date in YYYY-MM-DD format", err)
	}

	limit := recall.DefaultLimit
	if r.Limit != nil {
		limit = *r.Limit
	}

	return recall.Filter{
		Text:      r.Product,
		Agencies:  r.Agencies,
		DateFrom:  from,
		DateTo:    to,
		RiskLevel: r.RiskLevel,
		Category:  r.Category,
		Limit:     limit,
		Browse:    r.Browse,
	}, nil
}

// Response is one page of search results.
type Response struct {
	Items []recall.Record
	// NextCursor is nil on the last page.
	NextCursor *string
	// Conditional carries the ETag and Cache-Control headers and whether the
	// client copy is still current. Items is empty when it is.
	Conditional conditional.Result
	AsOf        time.Time
	CacheHit    bool
}

// NotModified reports whether the client should reuse its copy.
func (r *Response) NotModified() bool {
	return r.Conditional.NotModified
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCache enables the micro-cache in front of the planner.
func WithCache(mc *cache.MicroCache) ServiceOption {
	return func(s *Service) {
		s.cache = mc
	}
}

// WithQueryTimeout bounds each planner query.
func WithQueryTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.timeout = d
	}
}

// WithSnapshotClock replaces the clock minting first page snapshots.
func WithSnapshotClock(c snapshot.Clock) ServiceOption {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// Service orchestrates paginated searches: filter validation, cursor
// verification, snapshot handling, cached page retrieval and conditional
// responses. It keeps no per-traversal state.
type Service struct {
	planner  PagePlanner
	codec    *cursor.Codec
	cache    *cache.MicroCache
	pages    *CachedPlanner
	clock    snapshot.Clock
	timeout  time.Duration
	logger   *slog.Logger
	recorder Recorder
}

// NewService builds a Service over planner, signing cursors with codec.
func NewService(planner PagePlanner, codec *cursor.Codec, opts ...ServiceOption) *Service {
	s := &Service{
		planner:  planner,
		codec:    codec,
		timeout:  DefaultQueryTimeout,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.NewMicroCache(cache.NopStore{}, cache.DefaultConfig(), cache.WithLogger(s.logger))
	}
	s.pages = NewCachedPlanner(planner, s.cache, s.timeout, s.logger, s.recorder)
	return s
}

// Search returns one page for req. header carries the request
// preconditions and may be nil.
func (s *Service) Search(ctx context.Context, req Request, header http.Header) (*Response, error) {
	resp, err := s.search(ctx, req, header)
	if err != nil {
		return nil, s.fail(ctx, "search failed", err)
	}
	if resp.NotModified() {
		s.recorder.RequestOutcome(OutcomeNotModified)
	} else {
		s.recorder.RequestOutcome(OutcomeOK)
	}
	return resp, nil
}

func (s *Service) search(ctx context.Context, req Request, header http.Header) (*Response, error) {
	filter, err := req.Filter()
	if err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, validationError(err)
	}
	filter = filter.Normalized()
	if err := s.admit(filter); err != nil {
		return nil, planError(err)
	}
	fingerprint := filter.Fingerprint()

	q := keyset.Query{Filter: filter, Limit: filter.Limit}
	if req.Cursor != "" {
		state, err := s.codec.Decode(req.Cursor, fingerprint)
		if err != nil {
			return nil, cursorError(err)
		}
		after := state.After
		q.AsOf = s.clock.Resume(state)
		q.After = &after
		q.Limit = state.Limit
	} else {
		q.AsOf = s.clock.Mint()
	}

	page, hit, err := s.pages.PlanCached(ctx, q)
	if err != nil {
		return nil, planError(err)
	}

	ids := make([]uuid.UUID, len(page.Items))
	for i := range page.Items {
		ids[i] = page.Items[i].ID
	}
	resp := &Response{
		Items:       page.Items,
		Conditional: conditional.EvaluateList(header, conditional.ListETag(fingerprint, q.AsOf, ids)),
		AsOf:        q.AsOf,
		CacheHit:    hit,
	}
	if resp.Conditional.NotModified {
		resp.Items = []recall.Record{}
		return resp, nil
	}

	if page.HasMore && page.Next != nil {
		token, err := s.codec.Encode(cursor.State{
			Version:           cursor.VersionV1,
			FilterFingerprint: fingerprint,
			AsOf:              q.AsOf,
			Limit:             q.Limit,
			After:             *page.Next,
		})
		if err != nil {
			return nil, newError(KindInternal, CodeStoreFailure, http.StatusInternalServerError,
				"the search could not be completed", err).withCorrelationID()
		}
		resp.NextCursor = &token
	}
	return resp, nil
}

// admit rejects filters the planner would refuse, before the cache is read.
func (s *Service) admit(filter recall.Filter) error {
	if a, ok := s.planner.(FilterAdmitter); ok {
		return a.Admit(filter)
	}
	if !filter.Constrained() && !filter.Browse {
		return keyset.ErrUnconstrained
	}
	return nil
}

// InvalidateFilter drops every cached page of the filter with the given
// fingerprint in the current epoch.
func (s *Service) InvalidateFilter(ctx context.Context, fingerprint string) (int, error) {
	prefix, ok := s.cache.FilterPrefix(ctx, fingerprint)
	if !ok {
		return 0, ErrCacheUnavailable
	}
	return s.cache.Invalidate(ctx, prefix)
}

// BumpEpoch invalidates every cached page at once.
func (s *Service) BumpEpoch(ctx context.Context) (int64, error) {
	return s.cache.BumpEpoch(ctx)
}

func (s *Service) fail(ctx context.Context, msg string, err error) error {
	serr, ok := AsError(err)
	if !ok {
		serr = storeError(err)
	}
	s.recorder.RequestOutcome(serr.Code)

	switch {
	case serr.ServerSide():
		s.logger.ErrorContext(ctx, msg,
			"code", serr.Code,
			"category", serr.Category(),
			"correlation_id", serr.CorrelationID,
			"error", serr.Err,
		)
	case serr.Kind == KindCanceled:
		s.logger.InfoContext(ctx, "search canceled by caller", "code", serr.Code)
	default:
		s.logger.DebugContext(ctx, msg, "code", serr.Code, "error", serr.Err)
	}
	return serr
}
