package vectorstore

import (
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// RecordType classifies what a stored vector represents.
type RecordType string

const (
	TypeKnowledge RecordType = "knowledge"
	TypeMemory    RecordType = "memory"
)

// Visibility controls who may see a record within its tenant.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Record is the payload stored alongside each vector.
//
// TenantID and ProjectID are mandatory; a record lacking either is
// rejected before storage and never persisted. The remaining fields are
// optional filtering/display metadata.
type Record struct {
	TenantID        string     `json:"tenant_id"`
	ProjectID       string     `json:"project_id"`
	Type            RecordType `json:"type,omitempty"`
	Visibility      Visibility `json:"visibility,omitempty"`
	Version         string     `json:"version,omitempty"`
	Lang            string     `json:"lang,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Content         string     `json:"content,omitempty"`
	ConfidenceScore float64    `json:"confidence_score,omitempty"`
	EmbeddingModel  string     `json:"embedding_model,omitempty"`
}

// Validate checks mandatory identity fields and enum values.
func (r Record) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("%w: tenant_id required", ErrInvalidPayload)
	}
	if r.ProjectID == "" {
		return fmt.Errorf("%w: project_id required", ErrInvalidPayload)
	}
	switch r.Type {
	case "", TypeKnowledge, TypeMemory:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPayload, r.Type)
	}
	switch r.Visibility {
	case "", VisibilityPrivate, VisibilityPublic:
	default:
		return fmt.Errorf("%w: unknown visibility %q", ErrInvalidPayload, r.Visibility)
	}
	return nil
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

// payload converts the record to a Qdrant payload map.
func (r Record) payload() map[string]*qdrant.Value {
	p := map[string]*qdrant.Value{
		"tenant_id":  stringValue(r.TenantID),
		"project_id": stringValue(r.ProjectID),
	}
	if r.Type != "" {
		p["type"] = stringValue(string(r.Type))
	}
	if r.Visibility != "" {
		p["visibility"] = stringValue(string(r.Visibility))
	}
	if r.Version != "" {
		p["version"] = stringValue(r.Version)
	}
	if r.Lang != "" {
		p["lang"] = stringValue(r.Lang)
	}
	if len(r.Tags) > 0 {
		tags := make([]*qdrant.Value, len(r.Tags))
		for i, t := range r.Tags {
			tags[i] = stringValue(t)
		}
		p["tags"] = &qdrant.Value{Kind: &qdrant.Value_ListValue{
			ListValue: &qdrant.ListValue{Values: tags},
		}}
	}
	if r.Content != "" {
		p["content"] = stringValue(r.Content)
	}
	if r.ConfidenceScore > 0 {
		p["confidence_score"] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: r.ConfidenceScore}}
	}
	if r.EmbeddingModel != "" {
		p["embedding_model"] = stringValue(r.EmbeddingModel)
	}
	return p
}

// recordFromPayload rebuilds a Record from a Qdrant payload map.
func recordFromPayload(p map[string]*qdrant.Value) Record {
	str := func(key string) string {
		if v, ok := p[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	r := Record{
		TenantID:       str("tenant_id"),
		ProjectID:      str("project_id"),
		Type:           RecordType(str("type")),
		Visibility:     Visibility(str("visibility")),
		Version:        str("version"),
		Lang:           str("lang"),
		Content:        str("content"),
		EmbeddingModel: str("embedding_model"),
	}
	if v, ok := p["confidence_score"]; ok {
		r.ConfidenceScore = v.GetDoubleValue()
	}
	if v, ok := p["tags"]; ok {
		if list := v.GetListValue(); list != nil {
			for _, item := range list.Values {
				r.Tags = append(r.Tags, item.GetStringValue())
			}
		}
	}
	return r
}

// Point is one vector plus its payload, ready for upsert.
type Point struct {
	// ID is the point identifier. A UUID is assigned when empty.
	ID string

	// Vector is the embedding. Length must match the collection's
	// configured dimensionality.
	Vector []float32

	// Record is the payload stored with the vector.
	Record Record
}

// SearchResult is one ranked hit from a scoped search.
type SearchResult struct {
	ID     string  `json:"id"`
	Score  float32 `json:"score"`
	Record Record  `json:"record"`
}

// CollectionStats reports scoped collection counters.
type CollectionStats struct {
	Collection  string `json:"collection"`
	PointCount  uint64 `json:"point_count"`
	VectorSize  uint64 `json:"vector_size"`
	ScopedCount uint64 `json:"scoped_count"`
}
