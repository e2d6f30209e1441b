package keyset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-recall-search/recall"
)

var (
	// ErrUnconstrained is returned for filters with no text, agency or date
	// bound when browsing is not requested or not enabled.
	ErrUnconstrained = errors.New("keyset: filter must include search text, an agency or a date bound")
	// ErrInvalidLimit is returned when the page size is outside [1,100].
	ErrInvalidLimit = errors.New("keyset: limit must be between 1 and 100")
	// ErrMissingSnapshot is returned when a query carries no snapshot time.
	ErrMissingSnapshot = errors.New("keyset: snapshot time is required")
)

// Query is one page request against the record store.
type Query struct {
	Filter recall.Filter
	AsOf   time.Time
	// After is the sort key of the last item of the previous page, nil on
	// the first page.
	After *recall.SortKey
	Limit int
}

// Page is the result of a Query.
type Page struct {
	Items   []recall.Record
	HasMore bool
	// Next is the key to resume from, set only when HasMore is true.
	Next *recall.SortKey
}

// Option configures a Planner.
type Option func(*Planner)

// WithBrowse allows unconstrained filters that explicitly request browse mode.
func WithBrowse(enabled bool) Option {
	return func(p *Planner) {
		p.allowBrowse = enabled
	}
}

// WithMaxConcurrency caps the number of store queries in flight. Zero or a
// negative value leaves queries unbounded.
func WithMaxConcurrency(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.gate = make(chan struct{}, n)
		} else {
			p.gate = nil
		}
	}
}

// Planner turns a Query into a deterministic keyset range scan over the
// recalls table.
type Planner struct {
	db          bun.IDB
	allowBrowse bool
	gate        chan struct{}
}

// NewPlanner creates a planner reading from db.
func NewPlanner(db bun.IDB, opts ...Option) *Planner {
	p := &Planner{db: db}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Admit reports whether Plan would accept filter. It does no I/O.
func (p *Planner) Admit(filter recall.Filter) error {
	if !filter.Constrained() && !(filter.Browse && p.allowBrowse) {
		return ErrUnconstrained
	}
	return nil
}

// Plan runs q. Results are ordered by score descending, recall date
// descending, then id ascending, and only include records last updated at
// or before q.AsOf.
func (p *Planner) Plan(ctx context.Context, q Query) (Page, error) {
	if q.Limit < recall.MinLimit || q.Limit > recall.MaxLimit {
		return Page{}, ErrInvalidLimit
	}
	if q.AsOf.IsZero() {
		return Page{}, ErrMissingSnapshot
	}

	filter := q.Filter.Normalized()
	if err := p.Admit(filter); err != nil {
		return Page{}, err
	}

	if err := p.acquire(ctx); err != nil {
		return Page{}, err
	}
	defer p.release()

	var rows []recall.Record
	sel := p.db.NewSelect().Model(&rows)
	sel = applyFilter(sel, filter)
	sel = sel.Where("r.last_updated <= ?", recall.NormalizeTime(q.AsOf))
	if q.After != nil {
		sel = sel.WhereGroup(" AND ", after(*q.After))
	}
	sel = sel.
		OrderExpr("r.score DESC").
		OrderExpr("r.recall_date DESC").
		OrderExpr("r.id ASC").
		Limit(q.Limit + 1)

	if err := sel.Scan(ctx); err != nil {
		return Page{}, fmt.Errorf("keyset: query recalls: %w", err)
	}

	for i := range rows {
		rows[i].Normalize()
	}

	page := Page{Items: rows}
	if len(rows) > q.Limit {
		page.Items = rows[:q.Limit]
		page.HasMore = true
		next := page.Items[len(page.Items)-1].Key()
		page.Next = &next
	}
	if page.Items == nil {
		page.Items = []recall.Record{}
	}

	return page, nil
}

func (p *Planner) acquire(ctx context.Context) error {
	if p.gate == nil {
		return ctx.Err()
	}
	select {
	case p.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Planner) release() {
	if p.gate != nil {
		<-p.gate
	}
}

// after is the keyset predicate selecting rows strictly past k in result order.
func after(k recall.SortKey) func(*bun.SelectQuery) *bun.SelectQuery {
	date := recall.NormalizeTime(k.Date)
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.
			Where("r.score < ?", k.Score).
			WhereOr("r.score = ? AND r.recall_date < ?", k.Score, date).
			WhereOr("r.score = ? AND r.recall_date = ? AND r.id > ?", k.Score, date, k.ID)
	}
}

func applyFilter(q *bun.SelectQuery, f recall.Filter) *bun.SelectQuery {
	for _, term := range f.Terms() {
		pattern := "%" + escapeLike(term) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where(`LOWER(r.product) LIKE ? ESCAPE '!'`, pattern).
				WhereOr(`LOWER(r.title) LIKE ? ESCAPE '!'`, pattern).
				WhereOr(`LOWER(r.description) LIKE ? ESCAPE '!'`, pattern)
		})
	}

	if len(f.Agencies) > 0 {
		q = q.Where("UPPER(r.agency) IN (?)", bun.In(f.Agencies))
	}
	if f.DateFrom != nil {
		q = q.Where("r.recall_date >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		// DateTo is inclusive of the whole day
		q = q.Where("r.recall_date < ?", f.DateTo.AddDate(0, 0, 1))
	}
	if f.RiskLevel != "" {
		q = q.Where("LOWER(r.risk_level) = ?", f.RiskLevel)
	}
	if f.Category != "" {
		q = q.Where("LOWER(r.category) = ?", f.Category)
	}

	return q
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
