package cache

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/goliatone/go-recall-search/recall"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = ":"

// FirstPage stands in for the after key hash on the first page.
const FirstPage = "first"

// PageKeyParts identifies one page of one search.
type PageKeyParts struct {
	Fingerprint string
	AsOf        time.Time
	Limit       int
	// After is nil on the first page.
	After *recall.SortKey
}

// KeySerializer builds cache keys for search pages.
// It is responsible for producing stable keys across processes, since the
// cache may be shared.
type KeySerializer interface {
	// SerializeKey renders
	// <namespace>:<epoch>:<fingerprint>:<asOfMicros>:<limit>:<afterKeyHash>.
	SerializeKey(namespace string, epoch int64, parts PageKeyParts) string
	// SerializePrefix renders the leading segments shared by every page of
	// fingerprint, including the trailing separator.
	SerializePrefix(namespace string, epoch int64, fingerprint string) string
}

type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return defaultKeySerializer{}
}

func (s defaultKeySerializer) SerializeKey(namespace string, epoch int64, parts PageKeyParts) string {
	var b strings.Builder
	b.WriteString(s.SerializePrefix(namespace, epoch, parts.Fingerprint))
	b.WriteString(strconv.FormatInt(recall.NormalizeTime(parts.AsOf).UnixMicro(), 10))
	b.WriteString(KeySeparator)
	b.WriteString(strconv.Itoa(parts.Limit))
	b.WriteString(KeySeparator)
	b.WriteString(AfterKeyHash(parts.After))
	return b.String()
}

func (defaultKeySerializer) SerializePrefix(namespace string, epoch int64, fingerprint string) string {
	return strings.Join([]string{namespace, strconv.FormatInt(epoch, 10), fingerprint, ""}, KeySeparator)
}

// AfterKeyHash is the 16 hex digit xxhash64 of k, or FirstPage when k is nil.
func AfterKeyHash(k *recall.SortKey) string {
	if k == nil {
		return FirstPage
	}

	var buf [32]byte
	binary.BigEndian.PutUint64(buf[0:8], math.Float64bits(k.Score))
	binary.BigEndian.PutUint64(buf[8:16], uint64(recall.NormalizeTime(k.Date).UnixMicro()))
	copy(buf[16:], k.ID[:])

	sum := strconv.FormatUint(xxhash.Sum64(buf[:]), 16)
	return strings.Repeat("0", 16-len(sum)) + sum
}
