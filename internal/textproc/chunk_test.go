package textproc

import (
	"strings"
	"testing"
)

func TestSplitTextParagraphs(t *testing.T) {
	text := "First paragraph with enough text.\n\nSecond paragraph, also long enough.\n\n\nThird one here for good measure."

	chunks := SplitText(text, ChunkOptions{Strategy: StrategyParagraph})
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d: index = %d", i, c.Index)
		}
		if text[c.StartChar:c.EndChar] != c.Text {
			t.Errorf("chunk %d: offsets [%d,%d) don't recover text %q", i, c.StartChar, c.EndChar, c.Text)
		}
		if c.ContentHash != HashText(c.Text) {
			t.Errorf("chunk %d: content hash mismatch", i)
		}
		if c.ConfidenceScore <= 0 || c.ConfidenceScore > 1 {
			t.Errorf("chunk %d: confidence %v out of range", i, c.ConfidenceScore)
		}
	}
	if !strings.HasPrefix(chunks[0].Text, "First") || !strings.HasPrefix(chunks[2].Text, "Third") {
		t.Errorf("chunk order not preserved: %q ... %q", chunks[0].Text, chunks[2].Text)
	}
}

func TestSplitTextParagraphsSkipsShortFragments(t *testing.T) {
	text := "ok\n\nThis fragment is long enough to keep.\n\nno"

	chunks := SplitText(text, ChunkOptions{Strategy: StrategyParagraph})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestSplitTextParagraphsRepeatedFragmentKeepsDistinctOffsets(t *testing.T) {
	para := "Exactly the same paragraph text."
	text := para + "\n\n" + para

	chunks := SplitText(text, ChunkOptions{Strategy: StrategyParagraph})
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].StartChar == chunks[1].StartChar {
		t.Error("repeated paragraphs mapped to the same occurrence")
	}
	if chunks[0].ContentHash != chunks[1].ContentHash {
		t.Error("identical text must hash identically regardless of position")
	}
	if chunks[1].StartChar <= chunks[0].StartChar {
		t.Error("second occurrence should start after the first")
	}
}

func TestSplitTextSentences(t *testing.T) {
	text := "First sentence here. Second one follows! Third asks a question? Trailing fragment"

	chunks := SplitText(text, ChunkOptions{Strategy: StrategySentence})
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d: %+v", len(chunks), chunks)
	}

	expected := []string{
		"First sentence here.",
		"Second one follows!",
		"Third asks a question?",
		"Trailing fragment",
	}
	for i, want := range expected {
		if chunks[i].Text != want {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i].Text, want)
		}
		if text[chunks[i].StartChar:chunks[i].EndChar] != chunks[i].Text {
			t.Errorf("chunk %d: offsets don't recover text", i)
		}
	}
}

func TestSplitTextFixedSize(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 100) // 2700 bytes

	chunks := SplitText(text, ChunkOptions{Strategy: StrategyFixedSize, Size: 200, Overlap: 40})
	if len(chunks) < 10 {
		t.Fatalf("expected many chunks, got %d", len(chunks))
	}

	for i, c := range chunks {
		if len(c.Text) > 200 {
			t.Errorf("chunk %d exceeds size: %d bytes", i, len(c.Text))
		}
		if text[c.StartChar:c.EndChar] != c.Text {
			t.Errorf("chunk %d: offsets don't recover text", i)
		}
		if i > 0 && c.StartChar <= chunks[i-1].StartChar {
			t.Errorf("chunk %d does not advance: start %d after %d", i, c.StartChar, chunks[i-1].StartChar)
		}
	}
}

func TestSplitTextFixedSizeTermination(t *testing.T) {
	tests := []struct {
		name string
		text string
		opts ChunkOptions
	}{
		{
			name: "empty text",
			text: "",
			opts: ChunkOptions{Strategy: StrategyFixedSize},
		},
		{
			name: "whitespace only",
			text: "   \n\n\t  ",
			opts: ChunkOptions{Strategy: StrategyFixedSize},
		},
		{
			name: "single character",
			text: "x",
			opts: ChunkOptions{Strategy: StrategyFixedSize, Size: 512, Overlap: 64},
		},
		{
			name: "text shorter than chunk size",
			text: "short text",
			opts: ChunkOptions{Strategy: StrategyFixedSize, Size: 512, Overlap: 64},
		},
		{
			name: "overlap equal to size gets clamped",
			text: strings.Repeat("word ", 300),
			opts: ChunkOptions{Strategy: StrategyFixedSize, Size: 100, Overlap: 100},
		},
		{
			name: "overlap larger than size gets clamped",
			text: strings.Repeat("word ", 300),
			opts: ChunkOptions{Strategy: StrategyFixedSize, Size: 100, Overlap: 500},
		},
		{
			name: "no whitespace at all",
			text: strings.Repeat("a", 2048),
			opts: ChunkOptions{Strategy: StrategyFixedSize, Size: 256, Overlap: 32},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Termination is the property under test; a hang fails via
			// the test timeout.
			chunks := SplitText(tt.text, tt.opts)
			for i := 1; i < len(chunks); i++ {
				if chunks[i].StartChar <= chunks[i-1].StartChar {
					t.Fatalf("chunk %d start %d did not advance past %d", i, chunks[i].StartChar, chunks[i-1].StartChar)
				}
			}
		})
	}
}

func TestChunkOptionsApplyDefaults(t *testing.T) {
	var opts ChunkOptions
	opts.ApplyDefaults()
	if opts.Strategy != StrategyParagraph {
		t.Errorf("default strategy = %s", opts.Strategy)
	}
	if opts.Size != 512 || opts.Overlap != 64 {
		t.Errorf("defaults = size %d overlap %d", opts.Size, opts.Overlap)
	}

	clamped := ChunkOptions{Strategy: StrategyFixedSize, Size: 100, Overlap: 250}
	clamped.ApplyDefaults()
	if clamped.Overlap != 25 {
		t.Errorf("overlap not clamped to size/4: got %d", clamped.Overlap)
	}
}

func TestHashText(t *testing.T) {
	a := HashText("same content")
	b := HashText("same content")
	c := HashText("other content")
	if a != b {
		t.Error("identical text must hash identically")
	}
	if a == c {
		t.Error("distinct text should not collide")
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256 length 64, got %d", len(a))
	}
}
