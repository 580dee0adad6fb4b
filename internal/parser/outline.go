package parser

import (
	"strings"

	"github.com/dgallion1/docenrich/internal/schema"
)

// Metadata keys set on every parsed document.
const (
	KeyFileName     = "file_name"
	KeyFileType     = "file_type"
	KeyTitle        = "title"
	KeyPageCount    = "page_count"
	KeySectionCount = "section_count"
	KeyRowCount     = "row_count"
)

// section is one heading and the text under it.
type section struct {
	title    string
	text     string
	children []*section
}

// outline is the heading tree a format parser builds before flattening.
type outline struct {
	title    string
	sections []*section
	pages    int
	rows     int
}

// outlineBuilder nests sections by heading level.
type outlineBuilder struct {
	root    *section
	stack   []*section
	levels  []int
	pending strings.Builder
}

func newOutlineBuilder() *outlineBuilder {
	root := &section{}
	return &outlineBuilder{root: root, stack: []*section{root}, levels: []int{0}}
}

// heading opens a section at level (1 = top), closing deeper or equal ones.
func (b *outlineBuilder) heading(level int, title string) {
	b.flush()
	for len(b.stack) > 1 && b.levels[len(b.levels)-1] >= level {
		b.stack = b.stack[:len(b.stack)-1]
		b.levels = b.levels[:len(b.levels)-1]
	}
	s := &section{title: title}
	parent := b.stack[len(b.stack)-1]
	parent.children = append(parent.children, s)
	b.stack = append(b.stack, s)
	b.levels = append(b.levels, level)
}

// paragraph adds a block of text to the current section.
func (b *outlineBuilder) paragraph(t string) {
	t = strings.TrimSpace(t)
	if t == "" {
		return
	}
	if b.pending.Len() > 0 {
		b.pending.WriteString("\n\n")
	}
	b.pending.WriteString(t)
}

func (b *outlineBuilder) flush() {
	t := b.pending.String()
	b.pending.Reset()
	if t == "" {
		return
	}
	top := b.stack[len(b.stack)-1]
	if top.text != "" {
		top.text += "\n\n" + t
	} else {
		top.text = t
	}
}

// sections returns the built tree. Text before the first heading becomes an
// untitled leading section.
func (b *outlineBuilder) sections() []*section {
	b.flush()
	if b.root.text == "" {
		return b.root.children
	}
	return append([]*section{{text: b.root.text}}, b.root.children...)
}

// document flattens the outline into a single document. Headings become
// their own paragraph ahead of the text they introduce.
func (o *outline) document(filename, fileType string) *schema.Document {
	var parts []string
	titled := 0
	var walk func([]*section)
	walk = func(ss []*section) {
		for _, s := range ss {
			if s.title != "" {
				titled++
				parts = append(parts, s.title)
			}
			if s.text != "" {
				parts = append(parts, s.text)
			}
			walk(s.children)
		}
	}
	walk(o.sections)

	meta := schema.NewMetadata(
		schema.Entry{Key: KeyFileName, Value: filename},
		schema.Entry{Key: KeyFileType, Value: fileType},
		schema.Entry{Key: KeyTitle, Value: o.title},
	)
	if o.pages > 0 {
		meta.Set(KeyPageCount, o.pages)
	}
	if titled > 0 {
		meta.Set(KeySectionCount, titled)
	}
	if o.rows > 0 {
		meta.Set(KeyRowCount, o.rows)
	}

	doc := schema.NewDocument(strings.Join(parts, "\n\n"), meta)
	doc.Exclude(schema.ModeModel, KeyFileType)
	doc.Exclude(schema.ModeEmbedding, KeyFileType)
	return doc
}

// baseName strips any of exts from filename.
func baseName(filename string, exts ...string) string {
	lower := strings.ToLower(filename)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return filename[:len(filename)-len(ext)]
		}
	}
	return filename
}
