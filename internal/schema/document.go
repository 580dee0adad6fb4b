// Package schema holds the document and chunk data model and the
// metadata-visibility rendering shared by every pipeline stage.
package schema

import (
	"slices"

	"github.com/google/uuid"
)

// Exclusions maps a visibility mode to the metadata keys hidden under it.
type Exclusions map[Mode][]string

// Clone deep copies the exclusion sets.
func (x Exclusions) Clone() Exclusions {
	out := make(Exclusions, len(x))
	for mode, keys := range x {
		out[mode] = slices.Clone(keys)
	}
	return out
}

// add appends keys not already excluded under mode.
func (x Exclusions) add(mode Mode, keys ...string) {
	for _, k := range keys {
		if !slices.Contains(x[mode], k) {
			x[mode] = append(x[mode], k)
		}
	}
}

// Document is a unit of raw input text with its metadata and rendering
// configuration. It is not mutated once a pipeline run starts.
type Document struct {
	ID       string
	Text     string
	Metadata *Metadata
	Excluded Exclusions
	Template Template
}

// NewDocument creates a document with a fresh time-ordered ID.
func NewDocument(text string, meta *Metadata) *Document {
	if meta == nil {
		meta = &Metadata{}
	}
	return &Document{
		ID:       NewID(),
		Text:     text,
		Metadata: meta,
		Excluded: Exclusions{},
		Template: DefaultTemplate(),
	}
}

// Exclude hides keys under mode. Intended for pre-pipeline configuration.
func (d *Document) Exclude(mode Mode, keys ...string) {
	if d.Excluded == nil {
		d.Excluded = Exclusions{}
	}
	d.Excluded.add(mode, keys...)
}

func (d *Document) Content() string { return d.Text }

func (d *Document) Meta() *Metadata { return d.Metadata }

func (d *Document) ExcludedKeys(mode Mode) []string { return d.Excluded[mode] }

func (d *Document) Templates() Template { return d.Template }

// NewID returns a UUIDv7 string.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
