package sanitize

import (
	"regexp"
	"strings"
	"testing"
)

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "already valid", input: "my_corpus", want: "my_corpus"},
		{name: "uppercase", input: "MyCorpus", want: "mycorpus"},
		{name: "dots", input: "acme.example.com", want: "acme_example_com"},
		{name: "spaces and punctuation", input: "My Corpus!", want: "my_corpus"},
		{name: "hyphen", input: "acme-corp", want: "acme_corp"},
		{name: "consecutive invalid chars collapse", input: "a...b", want: "a_b"},
		{name: "leading and trailing trimmed", input: "__corpus__", want: "corpus"},
		{name: "empty", input: "", want: "default"},
		{name: "only invalid chars", input: "!!!", want: "default"},
		{name: "unicode", input: "bücher", want: "b_cher"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Identifier(tt.input); got != tt.want {
				t.Errorf("Identifier(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIdentifierTruncation(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := Identifier(long)

	if len(got) > MaxIdentifierLength {
		t.Errorf("length = %d, exceeds %d", len(got), MaxIdentifierLength)
	}
	if !collectionNamePattern.MatchString(got) {
		t.Errorf("result %q is not a valid collection name", got)
	}

	// Distinct long inputs with the same prefix must not collide.
	other := Identifier(strings.Repeat("a", 99) + "b")
	if got == other {
		t.Error("distinct long inputs collided after truncation")
	}

	// Deterministic.
	if Identifier(long) != got {
		t.Error("truncation is not deterministic")
	}
}

func TestCollectionName(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		suffix string
		want   string
	}{
		{name: "base only", base: "Acme Corpus", want: "acme_corpus"},
		{name: "with suffix", base: "Acme Corpus", suffix: "v2", want: "acme_corpus_v2"},
		{name: "messy suffix", base: "acme", suffix: "V 2!", want: "acme_v_2"},
		{name: "empty base", base: "", suffix: "v2", want: "default_v2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CollectionName(tt.base, tt.suffix)
			if got != tt.want {
				t.Errorf("CollectionName(%q, %q) = %q, want %q", tt.base, tt.suffix, got, tt.want)
			}
			if !collectionNamePattern.MatchString(got) {
				t.Errorf("result %q is not a valid collection name", got)
			}
		})
	}
}

func TestCollectionNameLongInputsStayValid(t *testing.T) {
	got := CollectionName(strings.Repeat("x", 60), strings.Repeat("y", 60))
	if len(got) > MaxIdentifierLength {
		t.Errorf("length = %d", len(got))
	}
	if !collectionNamePattern.MatchString(got) {
		t.Errorf("result %q is not a valid collection name", got)
	}
}
