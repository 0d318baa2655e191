package textproc

// hashPrefixLen is the number of leading hash characters compared for
// near-duplicate detection. Coarse by design: two unrelated chunks
// collide with probability about 1/16^6 per pair.
const hashPrefixLen = 6

// DedupStats reports what Dedupe removed from a batch.
type DedupStats struct {
	// Original is the input chunk count.
	Original int `json:"original"`

	// Unique is the surviving chunk count.
	Unique int `json:"unique"`

	// ExactDuplicates counts chunks dropped on a full hash match.
	ExactDuplicates int `json:"exact_duplicates"`

	// NearDuplicates counts chunks dropped on a hash-prefix match
	// against an already accepted chunk.
	NearDuplicates int `json:"near_duplicates"`
}

// Dedupe removes exact and near-duplicate chunks from a batch, preserving
// the relative order of survivors. It runs before any embedding call so
// duplicate text never reaches the provider.
//
// A chunk is an exact duplicate when its content hash matches a previously
// accepted hash. It is a near-duplicate when only the first hashPrefixLen
// characters match; those are counted separately.
func Dedupe(chunks []Chunk) ([]Chunk, DedupStats) {
	stats := DedupStats{Original: len(chunks)}
	if len(chunks) == 0 {
		return nil, stats
	}

	seen := make(map[string]struct{}, len(chunks))
	seenPrefix := make(map[string]struct{}, len(chunks))
	unique := make([]Chunk, 0, len(chunks))

	for _, c := range chunks {
		if _, dup := seen[c.ContentHash]; dup {
			stats.ExactDuplicates++
			continue
		}

		prefix := c.ContentHash
		if len(prefix) > hashPrefixLen {
			prefix = prefix[:hashPrefixLen]
		}
		if _, near := seenPrefix[prefix]; near {
			stats.NearDuplicates++
			continue
		}

		seen[c.ContentHash] = struct{}{}
		seenPrefix[prefix] = struct{}{}
		unique = append(unique, c)
	}

	stats.Unique = len(unique)
	return unique, stats
}
