// Package conditional implements ETag and Last-Modified negotiation for
// record detail and search list responses.
package conditional

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-recall-search/recall"
)

// Response header names and values.
const (
	HeaderETag            = "ETag"
	HeaderLastModified    = "Last-Modified"
	HeaderCacheControl    = "Cache-Control"
	HeaderIfNoneMatch     = "If-None-Match"
	HeaderIfModifiedSince = "If-Modified-Since"

	DetailCacheControl = "public, max-age=300, stale-while-revalidate=30"
	ListCacheControl   = "private, max-age=60"
)

// ListETagItems is how many leading item ids feed a list ETag.
const ListETagItems = 5

// Validators are the representation metadata compared against request
// preconditions.
type Validators struct {
	ETag         string
	LastModified time.Time
}

// Result says whether to answer 304 and which headers to send either way.
type Result struct {
	NotModified bool
	Header      http.Header
}

// Status is the HTTP status implied by the result.
func (r Result) Status() int {
	if r.NotModified {
		return http.StatusNotModified
	}
	return http.StatusOK
}

// Apply copies the result headers onto h.
func (r Result) Apply(h http.Header) {
	for k, v := range r.Header {
		h[k] = append([]string(nil), v...)
	}
}

// DetailETag derives the strong ETag of a record from its id and last update.
func DetailETag(id uuid.UUID, lastUpdated time.Time) string {
	micros := recall.NormalizeTime(lastUpdated).UnixMicro()
	return quotedHash(id.String(), strconv.FormatInt(micros, 10))
}

// ListETag derives the strong ETag of a result page from the filter
// fingerprint, the snapshot time and the first few item ids.
func ListETag(fingerprint string, asOf time.Time, ids []uuid.UUID) string {
	if len(ids) > ListETagItems {
		ids = ids[:ListETagItems]
	}
	parts := make([]string, 0, len(ids)+2)
	parts = append(parts, fingerprint, strconv.FormatInt(recall.NormalizeTime(asOf).UnixMicro(), 10))
	for _, id := range ids {
		parts = append(parts, id.String())
	}
	return quotedHash(parts...)
}

// EvaluateDetail checks request preconditions for a record. If-None-Match
// takes precedence: when present, If-Modified-Since is ignored.
func EvaluateDetail(req http.Header, v Validators) Result {
	h := http.Header{}
	h.Set(HeaderETag, v.ETag)
	h.Set(HeaderCacheControl, DetailCacheControl)
	if !v.LastModified.IsZero() {
		h.Set(HeaderLastModified, v.LastModified.UTC().Format(http.TimeFormat))
	}

	res := Result{Header: h}
	if inm := req.Values(HeaderIfNoneMatch); len(inm) > 0 {
		res.NotModified = noneMatch(inm, v.ETag)
		return res
	}
	if ims := req.Get(HeaderIfModifiedSince); ims != "" && !v.LastModified.IsZero() {
		if since, err := http.ParseTime(ims); err == nil {
			res.NotModified = !v.LastModified.Truncate(time.Second).After(since)
		}
	}
	return res
}

// EvaluateList checks If-None-Match for a search page.
func EvaluateList(req http.Header, etag string) Result {
	h := http.Header{}
	h.Set(HeaderETag, etag)
	h.Set(HeaderCacheControl, ListCacheControl)

	return Result{
		NotModified: noneMatch(req.Values(HeaderIfNoneMatch), etag),
		Header:      h,
	}
}

// noneMatch reports whether any entity tag listed in the If-None-Match
// values matches etag under weak comparison.
func noneMatch(values []string, etag string) bool {
	want := opaque(etag)
	for _, v := range values {
		for _, tag := range strings.Split(v, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if tag == "*" || (want != "" && opaque(tag) == want) {
				return true
			}
		}
	}
	return false
}

func opaque(tag string) string {
	return strings.TrimPrefix(strings.TrimSpace(tag), "W/")
}

func quotedHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte{':'})
		h.Write([]byte(p))
	}
	sum := h.Sum(nil)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
