package hnsw

import (
	"errors"
	"testing"
)

func TestNewParamsProfiles(t *testing.T) {
	tests := []struct {
		name     string
		workload Workload
		size     DatasetSize
		expected Params
	}{
		{
			name:     "balanced medium",
			workload: WorkloadBalanced,
			size:     SizeMedium,
			expected: Params{M: 0, PayloadM: 16, EfConstruct: 200, Ef: 64, MaxIndexingThreads: 0, FullScanThreshold: 20},
		},
		{
			name:     "speed small",
			workload: WorkloadSpeed,
			size:     SizeSmall,
			expected: Params{M: 0, PayloadM: 8, EfConstruct: 64, Ef: 32, MaxIndexingThreads: 0, FullScanThreshold: 10},
		},
		{
			name:     "quality large",
			workload: WorkloadQuality,
			size:     SizeLarge,
			expected: Params{M: 0, PayloadM: 32, EfConstruct: 600, Ef: 128, MaxIndexingThreads: 8, FullScanThreshold: 50},
		},
		{
			name:     "memory extra large",
			workload: WorkloadMemory,
			size:     SizeExtraLarge,
			expected: Params{M: 0, PayloadM: 8, EfConstruct: 320, Ef: 48, MaxIndexingThreads: 16, FullScanThreshold: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewParams(tt.workload, tt.size)
			if err != nil {
				t.Fatalf("NewParams: %v", err)
			}
			if p != tt.expected {
				t.Errorf("params = %+v, want %+v", p, tt.expected)
			}
		})
	}
}

func TestNewParamsAlwaysDisablesGlobalGraph(t *testing.T) {
	for workload := range workloads {
		for size := range sizes {
			p, err := NewParams(workload, size)
			if err != nil {
				t.Fatalf("%s/%s: %v", workload, size, err)
			}
			if p.M != 0 {
				t.Errorf("%s/%s: m = %d, want 0", workload, size, p.M)
			}
			if p.PayloadM < minPayloadM {
				t.Errorf("%s/%s: payload_m = %d below minimum", workload, size, p.PayloadM)
			}
			if p.EfConstruct < p.Ef {
				t.Errorf("%s/%s: ef_construct %d < ef %d", workload, size, p.EfConstruct, p.Ef)
			}
		}
	}
}

func TestNewParamsUnknownInputs(t *testing.T) {
	if _, err := NewParams("turbo", SizeSmall); !errors.Is(err, ErrUnknownWorkload) {
		t.Errorf("expected ErrUnknownWorkload, got %v", err)
	}
	if _, err := NewParams(WorkloadBalanced, "gigantic"); !errors.Is(err, ErrUnknownSize) {
		t.Errorf("expected ErrUnknownSize, got %v", err)
	}
}

func TestNewParamsOverrides(t *testing.T) {
	p, err := NewParams(WorkloadBalanced, SizeSmall,
		WithPayloadM(24),
		WithEf(80),
		WithEfConstruct(160),
		WithMaxIndexingThreads(4),
	)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	if p.PayloadM != 24 || p.Ef != 80 || p.EfConstruct != 160 || p.MaxIndexingThreads != 4 {
		t.Errorf("overrides not applied: %+v", p)
	}
}

func TestNewParamsOverrideBreakingTemplateFails(t *testing.T) {
	if _, err := NewParams(WorkloadBalanced, SizeSmall, WithPayloadM(4)); !errors.Is(err, ErrPayloadM) {
		t.Errorf("expected ErrPayloadM, got %v", err)
	}
	if _, err := NewParams(WorkloadBalanced, SizeSmall, WithEf(500)); !errors.Is(err, ErrEfBelowConstruct) {
		t.Errorf("expected ErrEfBelowConstruct, got %v", err)
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr error
	}{
		{
			name:   "valid multi-tenant params",
			params: Params{M: 0, PayloadM: 16, EfConstruct: 100, Ef: 64},
		},
		{
			name:    "global graph enabled",
			params:  Params{M: 16, PayloadM: 16, EfConstruct: 100, Ef: 64},
			wantErr: ErrGlobalGraph,
		},
		{
			name:    "payload_m too small",
			params:  Params{M: 0, PayloadM: 4, EfConstruct: 100, Ef: 64},
			wantErr: ErrPayloadM,
		},
		{
			name:    "ef exceeds ef_construct",
			params:  Params{M: 0, PayloadM: 16, EfConstruct: 50, Ef: 64},
			wantErr: ErrEfBelowConstruct,
		},
		{
			name:    "missing parameters",
			params:  Params{},
			wantErr: ErrMissingParameters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEstimateMemory(t *testing.T) {
	p := Params{PayloadM: 16, EfConstruct: 100, Ef: 64}
	est := EstimateMemory(p, 1_000_000, 384)

	wantVectors := uint64(1_000_000) * 384 * 4
	wantGraph := uint64(1_000_000) * 16 * 2 * 8
	if est.VectorBytes != wantVectors {
		t.Errorf("vector bytes = %d, want %d", est.VectorBytes, wantVectors)
	}
	if est.GraphBytes != wantGraph {
		t.Errorf("graph bytes = %d, want %d", est.GraphBytes, wantGraph)
	}
	if est.TotalBytes != est.VectorBytes+est.GraphBytes+est.OverheadBytes {
		t.Error("total is not the sum of its parts")
	}
}

func TestEstimateMemoryZeroCount(t *testing.T) {
	est := EstimateMemory(Params{PayloadM: 16}, 0, 384)
	if est.VectorBytes != 0 || est.GraphBytes != 0 {
		t.Errorf("expected zero variable costs, got %+v", est)
	}
	if est.TotalBytes != est.OverheadBytes {
		t.Error("empty collection should cost only fixed overhead")
	}
}
