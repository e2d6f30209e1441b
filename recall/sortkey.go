package recall

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SortKey is the (score, date, id) tuple that totally orders search results:
// score descending, then date descending, then id ascending.
type SortKey struct {
	Score float64
	Date  time.Time
	ID    uuid.UUID
}

// Before reports whether k sorts strictly before other in result order.
func (k SortKey) Before(other SortKey) bool {
	if k.Score != other.Score {
		return k.Score > other.Score
	}
	if !k.Date.Equal(other.Date) {
		return k.Date.After(other.Date)
	}
	return strings.Compare(k.ID.String(), other.ID.String()) < 0
}

// Equal reports whether both keys address the same position.
func (k SortKey) Equal(other SortKey) bool {
	return k.Score == other.Score && k.Date.Equal(other.Date) && k.ID == other.ID
}
