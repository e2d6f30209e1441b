package search

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"

	"github.com/goliatone/go-recall-search/conditional"
	"github.com/goliatone/go-recall-search/recall"
)

// RecordGetter is the slice of repository.Repository[*recall.Record] the
// detail endpoint needs.
type RecordGetter interface {
	GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*recall.Record, error)
}

var _ RecordGetter = (repository.Repository[*recall.Record])(nil)

// DetailResponse is a record lookup result.
type DetailResponse struct {
	// Record is nil when the client copy is current.
	Record      *recall.Record
	Conditional conditional.Result
}

// NotModified reports whether the client should reuse its copy.
func (r *DetailResponse) NotModified() bool {
	return r.Conditional.NotModified
}

// DetailOption configures a DetailService.
type DetailOption func(*DetailService)

// WithDetailLogger sets the logger.
func WithDetailLogger(logger *slog.Logger) DetailOption {
	return func(s *DetailService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDetailRecorder sets the metrics recorder.
func WithDetailRecorder(r Recorder) DetailOption {
	return func(s *DetailService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithNotFound replaces the predicate recognising "no such record" errors
// from the repository.
func WithNotFound(fn func(error) bool) DetailOption {
	return func(s *DetailService) {
		if fn != nil {
			s.notFound = fn
		}
	}
}

// DetailService serves single records with ETag and Last-Modified
// validators.
type DetailService struct {
	repo     RecordGetter
	logger   *slog.Logger
	recorder Recorder
	notFound func(error) bool
}

// NewDetailService builds a DetailService reading through repo.
func NewDetailService(repo RecordGetter, opts ...DetailOption) *DetailService {
	s := &DetailService{
		repo:     repo,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		notFound: isNotFound,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get looks up the record with the given id and evaluates the request
// preconditions in header, which may be nil.
func (s *DetailService) Get(ctx context.Context, id string, header http.Header) (*DetailResponse, error) {
	resp, err := s.get(ctx, id, header)
	if err != nil {
		serr, ok := AsError(err)
		if !ok {
			serr = storeError(err)
		}
		s.recorder.RequestOutcome(serr.Code)
		if serr.ServerSide() {
			s.logger.ErrorContext(ctx, "record lookup failed",
				"id", id,
				"code", serr.Code,
				"category", serr.Category(),
				"correlation_id", serr.CorrelationID,
				"error", serr.Err,
			)
		}
		return nil, serr
	}

	if resp.NotModified() {
		s.recorder.RequestOutcome(OutcomeNotModified)
	} else {
		s.recorder.RequestOutcome(OutcomeOK)
	}
	return resp, nil
}

func (s *DetailService) get(ctx context.Context, id string, header http.Header) (*DetailResponse, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, clientError(CodeInvalidID, "id: must be a UUID", err)
	}

	record, err := s.repo.GetByID(ctx, parsed.String())
	if err != nil {
		if s.notFound(err) {
			return nil, notFoundError(parsed.String(), err)
		}
		return nil, storeError(err)
	}
	if record == nil {
		return nil, notFoundError(parsed.String(), nil)
	}
	record.Normalize()

	res := conditional.EvaluateDetail(header, conditional.Validators{
		ETag:         conditional.DetailETag(record.ID, record.LastUpdated),
		LastModified: record.LastUpdated,
	})
	if res.NotModified {
		return &DetailResponse{Conditional: res}, nil
	}
	return &DetailResponse{Record: record, Conditional: res}, nil
}

// isNotFound recognises a missing row, raw from the driver or mapped by
// the repository.
func isNotFound(err error) bool {
	return repository.IsRecordNotFound(err)
}
