package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrTemplate is the sentinel wrapped by every TemplateError.
var ErrTemplate = errors.New("template error")

// Template placeholders.
const (
	PlaceholderKey           = "{key}"
	PlaceholderValue         = "{value}"
	PlaceholderMetadataBlock = "{metadataBlock}"
	PlaceholderContent       = "{content}"
)

// Defaults applied when a Template field is left empty.
const (
	DefaultMetadataSeparator     = "\n"
	DefaultMetadataEntryTemplate = "{key}: {value}"
	DefaultContentTemplate       = "{metadataBlock}\n\n{content}"
)

// Template controls how an entity's metadata and text are composed.
type Template struct {
	MetadataSeparator     string `json:"metadata_separator,omitempty" yaml:"metadata_separator"`
	MetadataEntryTemplate string `json:"metadata_entry_template,omitempty" yaml:"metadata_entry_template"`
	ContentTemplate       string `json:"content_template,omitempty" yaml:"content_template"`
}

// DefaultTemplate returns the template used when none is configured.
func DefaultTemplate() Template {
	return Template{
		MetadataSeparator:     DefaultMetadataSeparator,
		MetadataEntryTemplate: DefaultMetadataEntryTemplate,
		ContentTemplate:       DefaultContentTemplate,
	}
}

// WithDefaults fills empty fields. An empty separator is kept only when the
// entry template is also custom, otherwise entries would run together.
func (t Template) WithDefaults() Template {
	if t.MetadataEntryTemplate == "" {
		t.MetadataEntryTemplate = DefaultMetadataEntryTemplate
		if t.MetadataSeparator == "" {
			t.MetadataSeparator = DefaultMetadataSeparator
		}
	}
	if t.ContentTemplate == "" {
		t.ContentTemplate = DefaultContentTemplate
	}
	return t
}

// TemplateError reports a template referencing an unknown placeholder.
type TemplateError struct {
	Field       string
	Template    string
	Placeholder string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("%s %q: unknown placeholder {%s}", e.Field, e.Template, e.Placeholder)
}

func (e *TemplateError) Unwrap() error {
	return ErrTemplate
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Validate checks that each template only uses its allowed placeholders.
func (t Template) Validate() error {
	t = t.WithDefaults()
	if err := checkPlaceholders("metadata_entry_template", t.MetadataEntryTemplate, PlaceholderKey, PlaceholderValue); err != nil {
		return err
	}
	return checkPlaceholders("content_template", t.ContentTemplate, PlaceholderMetadataBlock, PlaceholderContent)
}

func checkPlaceholders(field, tmpl string, allowed ...string) error {
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		ok := false
		for _, a := range allowed {
			if m[0] == a {
				ok = true
				break
			}
		}
		if !ok {
			return &TemplateError{Field: field, Template: tmpl, Placeholder: m[1]}
		}
	}
	return nil
}

func formatEntry(tmpl, key string, value any) string {
	return strings.NewReplacer(PlaceholderKey, key, PlaceholderValue, FormatValue(value)).Replace(tmpl)
}

func formatContent(tmpl, block, content string) string {
	return strings.NewReplacer(PlaceholderMetadataBlock, block, PlaceholderContent, content).Replace(tmpl)
}
