package recall

import (
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Record is a single product recall as stored in the recalls table.
type Record struct {
	bun.BaseModel `bun:"table:recalls,alias:r" json:"-" msgpack:"-"`

	ID           uuid.UUID `bun:"id,pk,type:uuid" json:"id" msgpack:"id"`
	RecallNumber string    `bun:"recall_number,notnull" json:"recallNumber" msgpack:"recall_number"`
	Product      string    `bun:"product,notnull" json:"product" msgpack:"product"`
	Title        string    `bun:"title" json:"title" msgpack:"title"`
	Description  string    `bun:"description" json:"description,omitempty" msgpack:"description"`
	Agency       string    `bun:"agency,notnull" json:"agency" msgpack:"agency"`
	Category     string    `bun:"category" json:"category,omitempty" msgpack:"category"`
	RiskLevel    string    `bun:"risk_level" json:"riskLevel,omitempty" msgpack:"risk_level"`
	Score        float64   `bun:"score,notnull" json:"score" msgpack:"score"`
	RecallDate   time.Time `bun:"recall_date,notnull" json:"recallDate" msgpack:"recall_date"`
	LastUpdated  time.Time `bun:"last_updated,notnull" json:"lastUpdated" msgpack:"last_updated"`
}

// Key returns the record's position in the search order.
func (r *Record) Key() SortKey {
	return SortKey{Score: r.Score, Date: r.RecallDate, ID: r.ID}
}

// Normalize brings every timestamp to UTC at microsecond precision so values
// read back from different stores compare and serialize identically.
func (r *Record) Normalize() {
	r.RecallDate = NormalizeTime(r.RecallDate)
	r.LastUpdated = NormalizeTime(r.LastUpdated)
}

// NormalizeTime truncates t to microseconds in UTC.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}

// ModelHandlers returns the go-repository-bun handlers for Record.
func ModelHandlers() repository.ModelHandlers[*Record] {
	return repository.ModelHandlers[*Record]{
		NewRecord: func() *Record {
			return &Record{}
		},
		GetID: func(r *Record) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *Record, id uuid.UUID) {
			r.ID = id
		},
		GetIdentifier: func() string {
			return "recall_number"
		},
	}
}

// NewRepository builds the go-repository-bun repository over the recalls table.
func NewRepository(db *bun.DB) repository.Repository[*Record] {
	return repository.NewRepository[*Record](db, ModelHandlers())
}
