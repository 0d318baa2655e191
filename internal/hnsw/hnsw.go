// Package hnsw derives HNSW index parameters for multi-tenant collections.
//
// The multi-tenant template always disables the global graph (m=0): each
// tenant/project payload value gets its own graph segment, which is what
// makes per-tenant filtering precise and keeps neighbor information from
// leaking across tenants. Tuning varies only payload_m, ef, ef_construct,
// and the full-scan threshold.
package hnsw

import (
	"errors"
	"fmt"
)

// Workload names the latency/recall tradeoff a deployment optimizes for.
type Workload string

const (
	WorkloadBalanced Workload = "balanced"
	WorkloadSpeed    Workload = "speed"
	WorkloadQuality  Workload = "quality"
	WorkloadMemory   Workload = "memory"
)

// DatasetSize classifies expected collection size.
type DatasetSize string

const (
	SizeSmall      DatasetSize = "small"       // < 100k vectors
	SizeMedium     DatasetSize = "medium"      // 100k - 1M
	SizeLarge      DatasetSize = "large"       // 1M - 10M
	SizeExtraLarge DatasetSize = "extra_large" // > 10M
)

// Validation errors.
var (
	ErrUnknownWorkload   = errors.New("unknown workload profile")
	ErrUnknownSize       = errors.New("unknown dataset size class")
	ErrGlobalGraph       = errors.New("global graph must stay disabled in multi-tenant mode (m must be 0)")
	ErrPayloadM          = errors.New("payload_m below minimum for tenant-segmented graphs")
	ErrEfBelowConstruct  = errors.New("ef_construct must be >= ef")
	ErrMissingParameters = errors.New("required parameter missing")
)

// minPayloadM is the smallest per-payload graph connectivity that still
// gives acceptable recall on tenant-scoped segments.
const minPayloadM = 8

// Params holds HNSW build and search parameters.
type Params struct {
	// M is the global graph connectivity. Zero disables the shared graph.
	M uint64 `json:"m"`

	// PayloadM is the per-payload-value graph connectivity.
	PayloadM uint64 `json:"payload_m"`

	// EfConstruct is the build-time beam width.
	EfConstruct uint64 `json:"ef_construct"`

	// Ef is the search-time beam width.
	Ef uint64 `json:"ef"`

	// MaxIndexingThreads bounds index build parallelism. Zero means auto.
	MaxIndexingThreads uint64 `json:"max_indexing_threads"`

	// FullScanThreshold is the segment size (in KB) below which Qdrant
	// skips the index and scans exhaustively.
	FullScanThreshold uint64 `json:"full_scan_threshold"`
}

type workloadProfile struct {
	payloadM        uint64
	baseEfConstruct uint64
	ef              uint64
}

type sizeProfile struct {
	multiplier        uint64
	fullScanThreshold uint64
	indexingThreads   uint64
}

var workloads = map[Workload]workloadProfile{
	WorkloadBalanced: {payloadM: 16, baseEfConstruct: 100, ef: 64},
	WorkloadSpeed:    {payloadM: 8, baseEfConstruct: 64, ef: 32},
	WorkloadQuality:  {payloadM: 32, baseEfConstruct: 200, ef: 128},
	WorkloadMemory:   {payloadM: 8, baseEfConstruct: 80, ef: 48},
}

var sizes = map[DatasetSize]sizeProfile{
	SizeSmall:      {multiplier: 1, fullScanThreshold: 10, indexingThreads: 0},
	SizeMedium:     {multiplier: 2, fullScanThreshold: 20, indexingThreads: 0},
	SizeLarge:      {multiplier: 3, fullScanThreshold: 50, indexingThreads: 8},
	SizeExtraLarge: {multiplier: 4, fullScanThreshold: 100, indexingThreads: 16},
}

// Override mutates derived params before validation.
type Override func(*Params)

// WithPayloadM overrides the per-payload connectivity.
func WithPayloadM(m uint64) Override {
	return func(p *Params) { p.PayloadM = m }
}

// WithEf overrides the search-time beam width.
func WithEf(ef uint64) Override {
	return func(p *Params) { p.Ef = ef }
}

// WithEfConstruct overrides the build-time beam width.
func WithEfConstruct(ef uint64) Override {
	return func(p *Params) { p.EfConstruct = ef }
}

// WithMaxIndexingThreads overrides build parallelism.
func WithMaxIndexingThreads(n uint64) Override {
	return func(p *Params) { p.MaxIndexingThreads = n }
}

// NewParams derives index parameters from a workload profile and dataset
// size class. The result always satisfies the multi-tenant template; an
// override that breaks it fails validation here rather than at the server.
func NewParams(workload Workload, size DatasetSize, overrides ...Override) (Params, error) {
	w, ok := workloads[workload]
	if !ok {
		return Params{}, fmt.Errorf("%w: %q", ErrUnknownWorkload, workload)
	}
	s, ok := sizes[size]
	if !ok {
		return Params{}, fmt.Errorf("%w: %q", ErrUnknownSize, size)
	}

	p := Params{
		M:                  0, // tenant-segmented graphs only
		PayloadM:           w.payloadM,
		EfConstruct:        w.baseEfConstruct * s.multiplier,
		Ef:                 w.ef,
		MaxIndexingThreads: s.indexingThreads,
		FullScanThreshold:  s.fullScanThreshold,
	}

	for _, o := range overrides {
		o(&p)
	}

	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks that params preserve multi-tenant isolation guarantees.
func (p Params) Validate() error {
	if p.PayloadM == 0 || p.EfConstruct == 0 || p.Ef == 0 {
		return ErrMissingParameters
	}
	if p.M != 0 {
		return fmt.Errorf("%w: got m=%d", ErrGlobalGraph, p.M)
	}
	if p.PayloadM < minPayloadM {
		return fmt.Errorf("%w: got %d, need >= %d", ErrPayloadM, p.PayloadM, minPayloadM)
	}
	if p.EfConstruct < p.Ef {
		return fmt.Errorf("%w: ef_construct=%d ef=%d", ErrEfBelowConstruct, p.EfConstruct, p.Ef)
	}
	return nil
}

// MemoryEstimate breaks down expected index memory use.
type MemoryEstimate struct {
	// VectorBytes is raw vector storage: count * dims * 4.
	VectorBytes uint64 `json:"vector_bytes"`

	// GraphBytes is link storage: count * payload_m * 2 * 8.
	GraphBytes uint64 `json:"graph_bytes"`

	// OverheadBytes is a fixed per-collection allowance.
	OverheadBytes uint64 `json:"overhead_bytes"`

	// TotalBytes is the sum of the above.
	TotalBytes uint64 `json:"total_bytes"`
}

// fixedOverheadBytes covers collection metadata, payload indexes, and
// allocator slack. Capacity planning only, not a correctness input.
const fixedOverheadBytes = 64 * 1024 * 1024

// EstimateMemory returns an additive memory breakdown for capacity
// planning.
func EstimateMemory(p Params, vectorCount, dims uint64) MemoryEstimate {
	est := MemoryEstimate{
		VectorBytes:   vectorCount * dims * 4,
		GraphBytes:    vectorCount * p.PayloadM * 2 * 8,
		OverheadBytes: fixedOverheadBytes,
	}
	est.TotalBytes = est.VectorBytes + est.GraphBytes + est.OverheadBytes
	return est
}
