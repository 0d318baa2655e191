package textproc

import "testing"

func chunkWithHash(text, hash string) Chunk {
	return Chunk{Text: text, ContentHash: hash}
}

func TestDedupeExactDuplicates(t *testing.T) {
	chunks := []Chunk{
		chunkWithHash("a", "aaaaaa1111"),
		chunkWithHash("b", "bbbbbb2222"),
		chunkWithHash("a again", "aaaaaa1111"),
		chunkWithHash("b again", "bbbbbb2222"),
	}

	unique, stats := Dedupe(chunks)
	if len(unique) != 2 {
		t.Fatalf("expected 2 unique, got %d", len(unique))
	}
	if stats.ExactDuplicates != 2 || stats.NearDuplicates != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Original != 4 || stats.Unique != 2 {
		t.Errorf("counts = %+v", stats)
	}
}

func TestDedupeNearDuplicates(t *testing.T) {
	// Same first six hash characters, different tails.
	chunks := []Chunk{
		chunkWithHash("first", "abcdef000000"),
		chunkWithHash("near", "abcdef111111"),
		chunkWithHash("other", "fedcba000000"),
	}

	unique, stats := Dedupe(chunks)
	if len(unique) != 2 {
		t.Fatalf("expected 2 unique, got %d", len(unique))
	}
	if stats.NearDuplicates != 1 || stats.ExactDuplicates != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if unique[0].Text != "first" || unique[1].Text != "other" {
		t.Errorf("survivor order changed: %q, %q", unique[0].Text, unique[1].Text)
	}
}

func TestDedupeOrderPreserved(t *testing.T) {
	chunks := []Chunk{
		chunkWithHash("one", "111111aaaa"),
		chunkWithHash("two", "222222bbbb"),
		chunkWithHash("three", "333333cccc"),
		chunkWithHash("dup of one", "111111aaaa"),
		chunkWithHash("four", "444444dddd"),
	}

	unique, _ := Dedupe(chunks)
	want := []string{"one", "two", "three", "four"}
	if len(unique) != len(want) {
		t.Fatalf("expected %d unique, got %d", len(want), len(unique))
	}
	for i, w := range want {
		if unique[i].Text != w {
			t.Errorf("position %d = %q, want %q", i, unique[i].Text, w)
		}
	}
}

func TestDedupeEmptyInput(t *testing.T) {
	unique, stats := Dedupe(nil)
	if unique != nil {
		t.Errorf("expected nil, got %v", unique)
	}
	if stats.Original != 0 || stats.Unique != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDedupeRealHashes(t *testing.T) {
	// End to end with real sha256 hashes from the chunker.
	text := "Repeated paragraph of text here.\n\nUnique paragraph of text here.\n\nRepeated paragraph of text here."
	chunks := SplitText(text, ChunkOptions{Strategy: StrategyParagraph})
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks before dedup, got %d", len(chunks))
	}

	unique, stats := Dedupe(chunks)
	if len(unique) != 2 {
		t.Fatalf("expected 2 unique, got %d", len(unique))
	}
	if stats.ExactDuplicates != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
