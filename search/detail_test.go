package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	repository "github.com/goliatone/go-repository-bun"

	"github.com/goliatone/go-recall-search/conditional"
	"github.com/goliatone/go-recall-search/pkg/testsupport"
	"github.com/goliatone/go-recall-search/recall"
)

// mockRecords is a RecordGetter over a map that records lookups.
type mockRecords struct {
	mu      sync.Mutex
	records map[string]recall.Record
	calls   []string
	err     error
}

func (m *mockRecords) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*recall.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("get recall %s: %w", id, sql.ErrNoRows)
	}
	return &r, nil
}

func (m *mockRecords) put(r recall.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID.String()] = r
}

func newMockRecords(records ...recall.Record) *mockRecords {
	m := &mockRecords{records: make(map[string]recall.Record)}
	for _, r := range records {
		m.put(r)
	}
	return m
}

func TestDetailService_ConditionalFlow(t *testing.T) {
	record := testsupport.Recall(101, "Stroller", 9, recallDay)
	repo := newMockRecords(record)
	svc := NewDetailService(repo)
	ctx := context.Background()
	id := record.ID.String()

	first, err := svc.Get(ctx, id, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first.NotModified() || first.Record == nil || first.Record.ID != record.ID {
		t.Fatalf("expected the record, got %+v", first)
	}
	etag := first.Conditional.Header.Get(conditional.HeaderETag)
	if etag != conditional.DetailETag(record.ID, record.LastUpdated) {
		t.Errorf("unexpected etag %s", etag)
	}
	if got := first.Conditional.Header.Get(conditional.HeaderCacheControl); got != conditional.DetailCacheControl {
		t.Errorf("unexpected Cache-Control %q", got)
	}

	header := http.Header{}
	header.Set(conditional.HeaderIfNoneMatch, etag)
	cached, err := svc.Get(ctx, id, header)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !cached.NotModified() || cached.Record != nil {
		t.Errorf("expected 304 without a body, got %+v", cached)
	}

	updated := record
	updated.LastUpdated = record.LastUpdated.Add(time.Minute)
	repo.put(updated)

	fresh, err := svc.Get(ctx, id, header)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fresh.NotModified() {
		t.Fatal("expected 200 after the record changed")
	}
	if fresh.Conditional.Header.Get(conditional.HeaderETag) == etag {
		t.Error("expected a new etag after the record changed")
	}
}

func TestDetailService_IfModifiedSince(t *testing.T) {
	record := testsupport.Recall(7, "Crib", 2, recallDay)
	svc := NewDetailService(newMockRecords(record))

	header := http.Header{}
	header.Set(conditional.HeaderIfModifiedSince, recallDay.Format(http.TimeFormat))

	resp, err := svc.Get(context.Background(), record.ID.String(), header)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !resp.NotModified() {
		t.Error("expected 304 when unmodified since the given date")
	}
}

func TestDetailService_Errors(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		err    error
		kind   Kind
		code   string
		status int
	}{
		{name: "malformed id", id: "101", kind: KindClientInput, code: CodeInvalidID, status: http.StatusBadRequest},
		{name: "missing", id: testsupport.RecallID(999).String(), kind: KindNotFound, code: CodeRecordNotFound, status: http.StatusNotFound},
		{name: "store failure", id: testsupport.RecallID(1).String(), err: errors.New("disk I/O error"), kind: KindInternal, code: CodeStoreFailure, status: http.StatusInternalServerError},
		{name: "mapped not found", id: testsupport.RecallID(1).String(), err: repository.MapDatabaseError(sql.ErrNoRows, "sqlite3"), kind: KindNotFound, code: CodeRecordNotFound, status: http.StatusNotFound},
		{name: "mapped connection refused", id: testsupport.RecallID(1).String(), err: repository.MapDatabaseError(errors.New("dial tcp 10.0.0.1:5432: connection refused"), "postgres"), kind: KindUpstreamUnavailable, code: CodeStoreUnavailable, status: http.StatusServiceUnavailable},
		{name: "mapped timeout", id: testsupport.RecallID(1).String(), err: repository.MapDatabaseError(errors.New("read tcp: i/o timeout"), "postgres"), kind: KindTimeout, code: CodeQueryTimeout, status: http.StatusGatewayTimeout},
		{name: "mapped deadline", id: testsupport.RecallID(1).String(), err: repository.MapDatabaseError(context.DeadlineExceeded, "sqlite3"), kind: KindTimeout, code: CodeQueryTimeout, status: http.StatusGatewayTimeout},
		{name: "caller canceled", id: testsupport.RecallID(1).String(), err: repository.MapDatabaseError(context.Canceled, "sqlite3"), kind: KindCanceled, code: CodeRequestCanceled, status: StatusClientClosedRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRecords()
			repo.err = tt.err
			svc := NewDetailService(repo)

			_, err := svc.Get(context.Background(), tt.id, nil)
			serr, ok := AsError(err)
			if !ok {
				t.Fatalf("expected *Error, got %v", err)
			}
			if serr.Kind != tt.kind || serr.Code != tt.code || serr.Status != tt.status {
				t.Errorf("got %s/%s/%d, want %s/%s/%d", serr.Kind, serr.Code, serr.Status, tt.kind, tt.code, tt.status)
			}
		})
	}
}

func TestDetailService_CustomNotFound(t *testing.T) {
	sentinel := errors.New("missing")
	repo := newMockRecords()
	repo.err = sentinel

	svc := NewDetailService(repo, WithNotFound(func(err error) bool { return errors.Is(err, sentinel) }))
	_, err := svc.Get(context.Background(), testsupport.RecallID(1).String(), nil)

	serr, ok := AsError(err)
	if !ok || serr.Kind != KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}
