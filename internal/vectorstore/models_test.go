package vectorstore

import (
	"errors"
	"reflect"
	"testing"
)

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		record  Record
		wantErr bool
	}{
		{
			name:   "minimal valid",
			record: Record{TenantID: "acme", ProjectID: "search"},
		},
		{
			name: "fully populated",
			record: Record{
				TenantID:   "acme",
				ProjectID:  "search",
				Type:       TypeKnowledge,
				Visibility: VisibilityPrivate,
				Version:    "v2",
				Lang:       "en",
				Tags:       []string{"api", "docs"},
			},
		},
		{name: "missing tenant", record: Record{ProjectID: "search"}, wantErr: true},
		{name: "missing project", record: Record{TenantID: "acme"}, wantErr: true},
		{
			name:    "unknown type",
			record:  Record{TenantID: "acme", ProjectID: "search", Type: "secret"},
			wantErr: true,
		},
		{
			name:    "unknown visibility",
			record:  Record{TenantID: "acme", ProjectID: "search", Visibility: "everyone"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Errorf("expected ErrInvalidPayload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRecordPayloadRoundTrip(t *testing.T) {
	r := Record{
		TenantID:        "acme",
		ProjectID:       "search",
		Type:            TypeMemory,
		Visibility:      VisibilityPublic,
		Version:         "v3",
		Lang:            "de",
		Tags:            []string{"release", "notes"},
		Content:         "Die Kernaussage des Dokuments.",
		ConfidenceScore: 0.87,
		EmbeddingModel:  "BAAI/bge-small-en-v1.5",
	}

	got := recordFromPayload(r.payload())
	if !reflect.DeepEqual(got, r) {
		t.Errorf("round trip = %+v, want %+v", got, r)
	}
}

func TestRecordPayloadOmitsEmptyFields(t *testing.T) {
	p := Record{TenantID: "acme", ProjectID: "search"}.payload()

	if len(p) != 2 {
		t.Errorf("payload keys = %d, want only the scope fields", len(p))
	}
	for _, key := range []string{"tenant_id", "project_id"} {
		if _, ok := p[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
}
