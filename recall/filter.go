package recall

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	// DefaultLimit is the page size used when a request does not ask for one.
	DefaultLimit = 20
	// MinLimit and MaxLimit bound the page size.
	MinLimit = 1
	MaxLimit = 100

	// MaxTextLength caps the free-text query.
	MaxTextLength = 200
	// MaxAgencies caps the agency list.
	MaxAgencies = 20

	// DateLayout is the wire format of filter dates.
	DateLayout = "2006-01-02"
)

// Risk levels accepted by the filter.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// ErrInvalidDateRange is reported when dateFrom falls after dateTo.
var ErrInvalidDateRange = errors.New("dateFrom must not be after dateTo")

// Filter describes one search. It is treated as a value: methods never
// mutate the receiver and Normalized returns an independent copy.
type Filter struct {
	Text      string     `json:"product"`
	Agencies  []string   `json:"agencies"`
	DateFrom  *time.Time `json:"dateFrom"`
	DateTo    *time.Time `json:"dateTo"`
	RiskLevel string     `json:"riskLevel"`
	Category  string     `json:"category"`
	Limit     int        `json:"limit"`
	// Browse requests an unfiltered walk of the collection. It is only
	// honoured when the planner has browsing enabled.
	Browse bool `json:"browse"`
}

// Normalized returns the canonical form of f: text lowercased with collapsed
// whitespace, agencies upper-cased, de-duplicated and sorted, dates reduced to
// whole UTC days, risk and category lowercased.
func (f Filter) Normalized() Filter {
	out := Filter{
		Text:      strings.ToLower(strings.Join(strings.Fields(f.Text), " ")),
		RiskLevel: strings.ToLower(strings.TrimSpace(f.RiskLevel)),
		Category:  strings.ToLower(strings.TrimSpace(f.Category)),
		Limit:     f.Limit,
		Browse:    f.Browse,
	}

	if len(f.Agencies) > 0 {
		seen := make(map[string]struct{}, len(f.Agencies))
		for _, a := range f.Agencies {
			a = strings.ToUpper(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out.Agencies = append(out.Agencies, a)
		}
		sort.Strings(out.Agencies)
	}

	if f.DateFrom != nil {
		d := truncateDay(*f.DateFrom)
		out.DateFrom = &d
	}
	if f.DateTo != nil {
		d := truncateDay(*f.DateTo)
		out.DateTo = &d
	}

	return out
}

// Validate checks the filter against the accepted ranges. Errors are
// ozzo-validation field errors keyed by the JSON field name.
func (f Filter) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Text, validation.RuneLength(0, MaxTextLength)),
		validation.Field(&f.Agencies,
			validation.Length(0, MaxAgencies),
			validation.Each(validation.Required, validation.RuneLength(1, 64)),
		),
		validation.Field(&f.DateTo, validation.By(func(any) error {
			if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
				return ErrInvalidDateRange
			}
			return nil
		})),
		validation.Field(&f.RiskLevel, validation.In(RiskLow, RiskMedium, RiskHigh, RiskCritical)),
		validation.Field(&f.Limit,
			validation.Required.Error("must be between 1 and 100"),
			validation.Min(MinLimit).Error("must be between 1 and 100"),
			validation.Max(MaxLimit).Error("must be between 1 and 100"),
		),
	)
}

// Constrained reports whether the filter narrows the collection by text,
// agency or date. Risk level and category alone do not count.
func (f Filter) Constrained() bool {
	return strings.TrimSpace(f.Text) != "" || len(f.Agencies) > 0 || f.DateFrom != nil || f.DateTo != nil
}

// Terms splits the text query into the words every match must contain.
func (f Filter) Terms() []string {
	return strings.Fields(strings.ToLower(f.Text))
}

// Canonical renders the normalized filter in a stable textual form.
func (f Filter) Canonical() string {
	n := f.Normalized()

	var b strings.Builder
	b.WriteString("v1")
	writeField(&b, "q", n.Text)
	writeField(&b, "a", strings.Join(n.Agencies, ","))
	writeField(&b, "from", formatDate(n.DateFrom))
	writeField(&b, "to", formatDate(n.DateTo))
	writeField(&b, "risk", n.RiskLevel)
	writeField(&b, "cat", n.Category)
	writeField(&b, "limit", strconv.Itoa(n.Limit))
	writeField(&b, "browse", strconv.FormatBool(n.Browse))
	return b.String()
}

// Fingerprint is the hex-encoded, 128 bit SHA-256 prefix of the canonical form.
func (f Filter) Fingerprint() string {
	sum := sha256.Sum256([]byte(f.Canonical()))
	return hex.EncodeToString(sum[:16])
}

// ParseDate parses a YYYY-MM-DD filter date. The empty string yields nil.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeField(b *strings.Builder, name, value string) {
	b.WriteByte('|')
	b.WriteString(name)
	b.WriteByte('=')
	// length prefix keeps values containing separators unambiguous
	b.WriteString(strconv.Itoa(len(value)))
	b.WriteByte(':')
	b.WriteString(value)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
