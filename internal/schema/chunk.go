package schema

import "weak"

// Chunk is a bounded span of a document's text plus inherited and derived
// metadata. Chunks never reference each other, only their source document.
type Chunk struct {
	ID            string
	Text          string
	Metadata      *Metadata
	Excluded      Exclusions
	Template      Template
	SourceID      string
	SequenceIndex int
	// StartOffset and EndOffset are rune offsets into the source text.
	StartOffset int
	EndOffset   int

	source weak.Pointer[Document]
}

// NewChunk creates a chunk for the span [start, end) of doc. Metadata,
// exclusions and template are copied from doc, never shared.
func NewChunk(doc *Document, text string, seq, start, end int) *Chunk {
	excluded := doc.Excluded.Clone()
	return &Chunk{
		ID:            NewID(),
		Text:          text,
		Metadata:      doc.Metadata.Clone(),
		Excluded:      excluded,
		Template:      doc.Template,
		SourceID:      doc.ID,
		SequenceIndex: seq,
		StartOffset:   start,
		EndOffset:     end,
		source:        weak.Make(doc),
	}
}

// SourceDocument returns the originating document, or nil once it has been
// garbage collected. Provenance only: chunk edits never flow back.
func (c *Chunk) SourceDocument() *Document {
	return c.source.Value()
}

// Exclude hides keys under mode. Exclusions are append-only.
func (c *Chunk) Exclude(mode Mode, keys ...string) {
	if c.Excluded == nil {
		c.Excluded = Exclusions{}
	}
	c.Excluded.add(mode, keys...)
}

// Clone deep copies the chunk, keeping its ID and source reference.
func (c *Chunk) Clone() *Chunk {
	out := *c
	out.Metadata = c.Metadata.Clone()
	out.Excluded = c.Excluded.Clone()
	return &out
}

func (c *Chunk) Content() string { return c.Text }

func (c *Chunk) Meta() *Metadata { return c.Metadata }

func (c *Chunk) ExcludedKeys(mode Mode) []string { return c.Excluded[mode] }

func (c *Chunk) Templates() Template { return c.Template }
