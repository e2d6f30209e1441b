package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-recall-search/cache"
	"github.com/goliatone/go-recall-search/keyset"
	"github.com/goliatone/go-recall-search/recall"
)

// DefaultQueryTimeout bounds a single planner query.
const DefaultQueryTimeout = 2 * time.Second

// PagePlanner runs one keyset page query.
type PagePlanner interface {
	Plan(ctx context.Context, q keyset.Query) (keyset.Page, error)
}

// FilterAdmitter is implemented by planners that can reject a filter
// before touching the cache or the store.
type FilterAdmitter interface {
	Admit(filter recall.Filter) error
}

// Interface assertions
var (
	_ PagePlanner    = (*keyset.Planner)(nil)
	_ PagePlanner    = (*CachedPlanner)(nil)
	_ FilterAdmitter = (*keyset.Planner)(nil)
)

// Recorder receives request outcomes and planner latencies.
type Recorder interface {
	RequestOutcome(outcome string)
	ObservePlan(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RequestOutcome(string)     {}
func (nopRecorder) ObservePlan(time.Duration) {}

// cachedPage is the cache representation of a keyset.Page.
type cachedPage struct {
	Items   []recall.Record `msgpack:"items"`
	HasMore bool            `msgpack:"has_more"`
	Next    *recall.SortKey `msgpack:"next"`
}

// CachedPlanner decorates a PagePlanner with the micro-cache. Reads go
// through the cache; only successful results are written back.
type CachedPlanner struct {
	base     PagePlanner
	cache    *cache.MicroCache
	timeout  time.Duration
	logger   *slog.Logger
	recorder Recorder
}

// NewCachedPlanner wraps base. A nil micro-cache disables caching and a
// non-positive timeout uses DefaultQueryTimeout.
func NewCachedPlanner(base PagePlanner, mc *cache.MicroCache, timeout time.Duration, logger *slog.Logger, recorder Recorder) *CachedPlanner {
	if mc == nil {
		mc = cache.NewMicroCache(cache.NopStore{}, cache.DefaultConfig(), cache.WithLogger(logger))
	}
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &CachedPlanner{
		base:     base,
		cache:    mc,
		timeout:  timeout,
		logger:   logger,
		recorder: recorder,
	}
}

// Plan implements PagePlanner.
func (c *CachedPlanner) Plan(ctx context.Context, q keyset.Query) (keyset.Page, error) {
	page, _, err := c.PlanCached(ctx, q)
	return page, err
}

// PlanCached returns the page for q and whether it was served from cache.
func (c *CachedPlanner) PlanCached(ctx context.Context, q keyset.Query) (keyset.Page, bool, error) {
	key, cacheable := c.cache.PageKey(ctx, cache.PageKeyParts{
		Fingerprint: q.Filter.Fingerprint(),
		AsOf:        q.AsOf,
		Limit:       q.Limit,
		After:       q.After,
	})

	if cacheable {
		if raw, hit := c.cache.Get(ctx, key); hit {
			page, err := decodePage(raw)
			if err == nil {
				return page, true, nil
			}
			c.logger.WarnContext(ctx, "discarding undecodable cached page", "key", key, "error", err)
		}
	}

	page, err := c.fetch(ctx, q)
	if err != nil {
		return keyset.Page{}, false, err
	}

	if cacheable {
		if raw, err := encodePage(page); err != nil {
			c.logger.WarnContext(ctx, "could not encode page for cache", "key", key, "error", err)
		} else {
			c.cache.Set(ctx, key, raw, 0)
		}
	}
	return page, false, nil
}

func (c *CachedPlanner) fetch(ctx context.Context, q keyset.Query) (keyset.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	page, err := c.base.Plan(ctx, q)
	c.recorder.ObservePlan(time.Since(start))
	return page, err
}

func encodePage(p keyset.Page) ([]byte, error) {
	return msgpack.Marshal(&cachedPage{Items: p.Items, HasMore: p.HasMore, Next: p.Next})
}

func decodePage(raw []byte) (keyset.Page, error) {
	var cp cachedPage
	if err := msgpack.Unmarshal(raw, &cp); err != nil {
		return keyset.Page{}, err
	}

	// msgpack restores times in the local zone
	for i := range cp.Items {
		cp.Items[i].Normalize()
	}
	if cp.Next != nil {
		cp.Next.Date = recall.NormalizeTime(cp.Next.Date)
	}
	if cp.Items == nil {
		cp.Items = []recall.Record{}
	}
	return keyset.Page{Items: cp.Items, HasMore: cp.HasMore, Next: cp.Next}, nil
}
