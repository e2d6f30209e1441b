// Package cache provides the search page micro-cache.
//
// # Overview
//
// MicroCache stores serialized result pages for a short, fixed TTL on top of
// a pluggable Store:
//
//   - NewMemoryStore: in-process, sturdyc backed. Suits a single node,
//     development and tests.
//   - NewRedisStore: shared across replicas.
//   - NopStore: disables caching.
//
// # Keys and epochs
//
// Page keys have the form
//
//	<namespace>:<epoch>:<fingerprint>:<asOfMicros>:<limit>:<afterKeyHash>
//
// where afterKeyHash is the xxhash64 of the previous page's last sort key, or
// "first". The epoch is a counter kept in the store. BumpEpoch increments
// it, so every key written before the bump becomes unreachable and ages out
// on its own TTL. Targeted invalidation after a data change deletes the
// prefix returned by FilterPrefix.
//
//	mc := cache.NewMicroCache(store, cache.DefaultConfig())
//	key, ok := mc.PageKey(ctx, cache.PageKeyParts{Fingerprint: fp, AsOf: asOf, Limit: 20})
//	if ok {
//		if page, hit := mc.Get(ctx, key); hit {
//			return page
//		}
//	}
//
// # Failure handling
//
// The cache is an optimisation only. Store errors on Get and Set are logged,
// reported through the Observer and treated as misses. When the epoch cannot
// be read PageKey reports false and the caller skips the cache for that
// request.
package cache
