package schema

import (
	"slices"
	"strings"
)

// Renderable is anything MetadataView can render: documents and chunks.
type Renderable interface {
	Content() string
	Meta() *Metadata
	ExcludedKeys(mode Mode) []string
	Templates() Template
}

// MetadataBlock formats the entity's metadata visible under mode, joined by
// the metadata separator. It is empty when every key is excluded.
func MetadataBlock(e Renderable, mode Mode) (string, error) {
	tmpl := e.Templates().WithDefaults()
	if err := tmpl.Validate(); err != nil {
		return "", err
	}
	return metadataBlock(e, mode, tmpl), nil
}

func metadataBlock(e Renderable, mode Mode, tmpl Template) string {
	if mode == ModeNone {
		return ""
	}
	var excluded []string
	if mode != ModeRaw {
		excluded = e.ExcludedKeys(mode)
	}
	var lines []string
	for _, entry := range e.Meta().Entries() {
		if slices.Contains(excluded, entry.Key) {
			continue
		}
		lines = append(lines, formatEntry(tmpl.MetadataEntryTemplate, entry.Key, entry.Value))
	}
	return strings.Join(lines, tmpl.MetadataSeparator)
}

// Render composes the entity's text and visible metadata for mode. With an
// empty metadata block the text is returned unchanged.
func Render(e Renderable, mode Mode) (string, error) {
	tmpl := e.Templates().WithDefaults()
	if err := tmpl.Validate(); err != nil {
		return "", err
	}
	block := metadataBlock(e, mode, tmpl)
	if block == "" {
		return e.Content(), nil
	}
	return formatContent(tmpl.ContentTemplate, block, e.Content()), nil
}
