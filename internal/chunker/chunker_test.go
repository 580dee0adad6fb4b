package chunker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/dgallion1/docenrich/internal/schema"
)

func plainDoc(text string) *schema.Document {
	return schema.NewDocument(text, nil)
}

func TestSplit_OverlapScenario(t *testing.T) {
	doc := plainDoc("AAAAABBBBBCCCCC")
	chunks, err := Split(doc, Config{ChunkSize: 10, Overlap: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	want := []struct {
		start, end int
		text       string
	}{
		{0, 10, "AAAAABBBBB"},
		{5, 15, "BBBBBCCCCC"},
	}
	for i, w := range want {
		c := chunks[i]
		if c.StartOffset != w.start || c.EndOffset != w.end {
			t.Errorf("chunk %d: expected [%d,%d), got [%d,%d)", i, w.start, w.end, c.StartOffset, c.EndOffset)
		}
		if c.Text != w.text {
			t.Errorf("chunk %d: expected %q, got %q", i, w.text, c.Text)
		}
		if c.SequenceIndex != i {
			t.Errorf("chunk %d: expected sequence index %d, got %d", i, i, c.SequenceIndex)
		}
	}
	if !strings.HasSuffix(chunks[1].Text, "CCCCC") || !strings.HasPrefix(chunks[1].Text, chunks[0].Text[5:]) {
		t.Errorf("second chunk should start with the last 5 chars of the first, got %q", chunks[1].Text)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"overlap equals size", Config{ChunkSize: 5, Overlap: 5}, false},
		{"overlap above size", Config{ChunkSize: 5, Overlap: 6}, false},
		{"zero size", Config{ChunkSize: 0}, false},
		{"negative overlap", Config{ChunkSize: 5, Overlap: -1}, false},
		{"negative slack", Config{ChunkSize: 5, Slack: -1}, false},
		{"zero overlap", Config{ChunkSize: 5}, true},
		{"defaults", DefaultConfig(), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
			}
		})
	}
}

func TestSplit_RejectsInvalidConfigBeforeWork(t *testing.T) {
	_, err := Split(plainDoc("hello"), Config{ChunkSize: 5, Overlap: 5})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if cfgErr.Field != "overlap" {
		t.Errorf("expected overlap field, got %q", cfgErr.Field)
	}
}

func TestSpans_Properties(t *testing.T) {
	for length := 0; length <= 40; length += 3 {
		text := []rune(strings.Repeat("ab cd ", 10)[:length])
		for size := 1; size <= 12; size++ {
			for overlap := 0; overlap < size; overlap++ {
				cfg := Config{ChunkSize: size, Overlap: overlap, Separator: " "}
				spans := Spans(text, cfg)
				checkSpans(t, spans, length, cfg)
			}
		}
	}
}

func checkSpans(t *testing.T, spans []Span, length int, cfg Config) {
	t.Helper()
	if len(spans) == 0 {
		t.Fatalf("len=%d cfg=%+v: no spans", length, cfg)
	}
	if spans[0].Start != 0 {
		t.Fatalf("len=%d cfg=%+v: first span starts at %d", length, cfg, spans[0].Start)
	}
	if last := spans[len(spans)-1]; last.End != length {
		t.Fatalf("len=%d cfg=%+v: last span ends at %d", length, cfg, last.End)
	}
	for i, sp := range spans {
		if length > 0 && sp.End <= sp.Start {
			t.Fatalf("len=%d cfg=%+v: span %d is empty", length, cfg, i)
		}
		if sp.End-sp.Start > cfg.ChunkSize {
			t.Fatalf("len=%d cfg=%+v: span %d longer than chunk size", length, cfg, i)
		}
		if i == 0 {
			continue
		}
		prev := spans[i-1]
		if sp.Start <= prev.Start {
			t.Fatalf("len=%d cfg=%+v: span %d start %d not after %d", length, cfg, i, sp.Start, prev.Start)
		}
		if sp.Start > prev.End {
			t.Fatalf("len=%d cfg=%+v: gap between span %d and %d", length, cfg, i-1, i)
		}
		if prev.End-sp.Start > cfg.Overlap {
			t.Fatalf("len=%d cfg=%+v: overlap %d exceeds %d", length, cfg, prev.End-sp.Start, cfg.Overlap)
		}
	}
}

func TestSplit_SeparatorAlignedBoundaries(t *testing.T) {
	doc := plainDoc("one two three four five six")
	chunks, err := Split(doc, Config{ChunkSize: 10, Separator: " ", Slack: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"one two ", "three ", "four five ", "six"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, w := range want {
		if chunks[i].Text != w {
			t.Errorf("chunk %d: expected %q, got %q", i, w, chunks[i].Text)
		}
	}
}

func TestSplit_HardCutWithoutSeparatorInWindow(t *testing.T) {
	doc := plainDoc(strings.Repeat("x", 23))
	chunks, err := Split(doc, Config{ChunkSize: 10, Separator: " "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[2].Text) != 3 {
		t.Errorf("expected short last chunk of 3, got %d", len(chunks[2].Text))
	}
}

func TestSplit_EmptyDocument(t *testing.T) {
	chunks, err := Split(plainDoc(""), DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 empty chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "" || chunks[0].StartOffset != 0 || chunks[0].EndOffset != 0 {
		t.Errorf("expected empty [0,0) chunk, got %+v", chunks[0])
	}
}

func TestSplit_RuneOffsets(t *testing.T) {
	chunks, err := Split(plainDoc("héllo wörld"), Config{ChunkSize: 5, Overlap: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"héllo", "o wör", "rld"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, w := range want {
		if chunks[i].Text != w {
			t.Errorf("chunk %d: expected %q, got %q", i, w, chunks[i].Text)
		}
	}
}

func TestSplit_Idempotent(t *testing.T) {
	doc := plainDoc(strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20))
	doc.Metadata.Set("file_name", "fox.txt")
	cfg := Config{ChunkSize: 120, Overlap: 30, Separator: ". "}

	first, err := Split(doc, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Split(doc, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected equal chunk counts, got %d and %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.Text != b.Text || a.StartOffset != b.StartOffset || a.EndOffset != b.EndOffset {
			t.Errorf("chunk %d differs between runs", i)
		}
		if schema.FormatValue(a.Metadata.Keys()) != schema.FormatValue(b.Metadata.Keys()) {
			t.Errorf("chunk %d metadata keys differ between runs", i)
		}
	}
}

func TestSplit_InheritsMetadataAndExclusions(t *testing.T) {
	doc := plainDoc(strings.Repeat("word ", 50))
	doc.Metadata.Set("file_name", "w.txt")
	doc.Exclude(schema.ModeModel, "file_name")

	chunks, err := Split(doc, Config{ChunkSize: 60, Overlap: 10, Separator: " "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	chunks[0].Exclude(schema.ModeEmbedding, "file_name")
	for i, c := range chunks {
		if v, _ := c.Metadata.Get("file_name"); v != "w.txt" {
			t.Errorf("chunk %d: expected inherited file_name, got %v", i, v)
		}
		if len(c.ExcludedKeys(schema.ModeModel)) != 1 {
			t.Errorf("chunk %d: expected inherited model exclusion", i)
		}
		if c.SourceID != doc.ID {
			t.Errorf("chunk %d: expected source id %q, got %q", i, doc.ID, c.SourceID)
		}
	}
	if len(chunks[1].ExcludedKeys(schema.ModeEmbedding)) != 0 {
		t.Error("exclusion added to chunk 0 leaked into chunk 1")
	}
	if len(doc.ExcludedKeys(schema.ModeEmbedding)) != 0 {
		t.Error("exclusion added to chunk 0 leaked into the document")
	}
}

func TestSplit_EmbeddingMetadataReducesBudget(t *testing.T) {
	doc := plainDoc(strings.Repeat("a", 25))
	doc.Metadata.Set("k", "v") // renders as "k: v\n\n" -> 6 runes of overhead

	chunks, err := Split(doc, Config{ChunkSize: 16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantLens := []int{10, 10, 5}
	if len(chunks) != len(wantLens) {
		t.Fatalf("expected %d chunks, got %d", len(wantLens), len(chunks))
	}
	for i, w := range wantLens {
		if len(chunks[i].Text) != w {
			t.Errorf("chunk %d: expected length %d, got %d", i, w, len(chunks[i].Text))
		}
	}

	// Metadata hidden from the embedding view does not count.
	doc.Exclude(schema.ModeEmbedding, "k")
	chunks, err = Split(doc, Config{ChunkSize: 16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks once metadata is excluded, got %d", len(chunks))
	}

	_, err = Split(plainDoc("x"), Config{ChunkSize: 3})
	if err != nil {
		t.Fatalf("unexpected error without metadata: %v", err)
	}
}

func TestSplit_MetadataLargerThanBudget(t *testing.T) {
	doc := plainDoc("AAAAABBBBBCCCCC")
	doc.Metadata.Set("file_name", "x.txt")

	chunks, err := Split(doc, Config{ChunkSize: 10, Overlap: 5})
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	want := []string{"AAAAABBBBB", "BBBBBCCCCC"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, w := range want {
		if chunks[i].Text != w {
			t.Errorf("chunk %d: expected %q, got %q", i, w, chunks[i].Text)
		}
	}

	var buf bytes.Buffer
	st, err := NewStage(Config{ChunkSize: 10, Overlap: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st.Logger = slog.New(slog.NewTextHandler(&buf, nil))
	if _, err := st.Chunk(context.Background(), []*schema.Document{doc}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "exceeds chunk budget") {
		t.Errorf("expected a budget warning, got %q", buf.String())
	}
}

func TestSplit_InvalidUTF8KeptVerbatim(t *testing.T) {
	raw := "ab\xffcd"
	chunks, err := Split(plainDoc(raw), Config{ChunkSize: 3, Overlap: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"ab\xff", "\xffcd"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, w := range want {
		c := chunks[i]
		if c.Text != w {
			t.Errorf("chunk %d: expected %q, got %q", i, w, c.Text)
		}
		if !strings.Contains(raw, c.Text) {
			t.Errorf("chunk %d: %q is not a substring of the document", i, c.Text)
		}
	}
	if chunks[1].StartOffset != 2 || chunks[1].EndOffset != 5 {
		t.Errorf("expected rune span [2,5), got [%d,%d)", chunks[1].StartOffset, chunks[1].EndOffset)
	}
}

func TestSplit_TemplateErrorSurfaces(t *testing.T) {
	doc := plainDoc("text")
	doc.Metadata.Set("k", "v")
	doc.Template.ContentTemplate = "{oops}"
	_, err := Split(doc, DefaultConfig())
	if !errors.Is(err, schema.ErrTemplate) {
		t.Fatalf("expected template error, got %v", err)
	}
}

func TestStage_ChunksDocumentsInOrder(t *testing.T) {
	st, err := NewStage(Config{ChunkSize: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, b := plainDoc("aaaaaa"), plainDoc("bb")
	chunks, err := st.Chunk(context.Background(), []*schema.Document{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].SourceID != a.ID || chunks[1].SourceID != a.ID || chunks[2].SourceID != b.ID {
		t.Error("expected chunks grouped by document in input order")
	}
	if chunks[2].SequenceIndex != 0 {
		t.Errorf("sequence index restarts per document, got %d", chunks[2].SequenceIndex)
	}
}

func TestStage_Cancelled(t *testing.T) {
	st, _ := NewStage(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := st.Chunk(ctx, []*schema.Document{plainDoc("x")}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewStage_InvalidConfig(t *testing.T) {
	if _, err := NewStage(Config{ChunkSize: 5, Overlap: 5}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Error("expected 0 for empty text")
	}
	if got := EstimateTokens("a"); got != 1 {
		t.Errorf("expected at least 1 token, got %d", got)
	}
	if got := EstimateTokens(strings.Repeat("x", 400)); got != 100 {
		t.Errorf("expected char estimate of 100, got %d", got)
	}
	if got := EstimateTokens(strings.Repeat("a ", 300)); got != 399 {
		t.Errorf("expected word estimate of 399, got %d", got)
	}
}
