// Package cache caches search results, embeddings, and collection stats
// in Redis, with per-tenant and per-project invalidation indices.
//
// The cache is a purely additive fast path: every failure degrades to a
// miss and is logged, never propagated as a request failure.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Key namespaces. Membership indices track which keys belong to which
// scope so invalidation is O(scope size), not a keyspace scan.
const (
	searchPrefix    = "search:"
	embeddingPrefix = "embedding:"
	statsPrefix     = "stats:"
)

// SearchKey derives the cache key for one scoped search request.
//
// The fingerprint covers tenant, project, query hash, the sorted filter
// set, and the limit, so any change to the request maps to a new key.
func SearchKey(tenantID, projectID, queryHash string, filters []string, limit uint64) string {
	sorted := make([]string, len(filters))
	copy(sorted, filters)
	sort.Strings(sorted)

	fingerprint := strings.Join([]string{
		tenantID,
		projectID,
		queryHash,
		strings.Join(sorted, ","),
		fmt.Sprintf("%d", limit),
	}, "|")

	return searchPrefix + md5Hex(fingerprint)
}

// EmbeddingKey derives the cache key for one embedded text.
// Content-addressed: the same text, model, and normalization level hit
// the same entry.
func EmbeddingKey(textHash, model, normalization string) string {
	return embeddingPrefix + md5Hex(textHash+"|"+model+"|"+normalization)
}

// StatsKey derives the cache key for scoped collection statistics.
func StatsKey(tenantID, projectID string) string {
	return statsPrefix + tenantID + ":" + projectID
}

// tenantIndexKey is the membership set of cache keys for one tenant.
func tenantIndexKey(tenantID string) string {
	return "tenant:" + tenantID + ":index"
}

// projectIndexKey is the membership set of cache keys for one project.
func projectIndexKey(tenantID, projectID string) string {
	return "tenant:" + tenantID + ":project:" + projectID + ":index"
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
