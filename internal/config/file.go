package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/docenrich/internal/schema"
)

// PipelineFile is the YAML form of a pipeline definition. Zero fields leave
// the environment settings in place.
type PipelineFile struct {
	Chunking         ChunkingConfig   `yaml:"chunking"`
	ConcurrencyLimit int              `yaml:"concurrency_limit"`
	FailFast         *bool            `yaml:"fail_fast"`
	Stages           []StageConfig    `yaml:"stages"`
	Documents        DocumentDefaults `yaml:"documents"`
}

// ChunkingConfig overrides the chunker settings.
type ChunkingConfig struct {
	ChunkSize int     `yaml:"chunk_size"`
	Overlap   *int    `yaml:"overlap"`
	Separator *string `yaml:"separator"`
	Slack     int     `yaml:"slack"`
}

// StageConfig defines one enrichment stage.
type StageConfig struct {
	Name              string   `yaml:"name"`
	Type              string   `yaml:"type"` // titles | questions
	Count             int      `yaml:"count"`
	MaxRetries        int      `yaml:"max_retries"`
	HideFromEmbedding bool     `yaml:"hide_from_embedding"`
	Prompt            string   `yaml:"prompt"`
	MaxTokens         int      `yaml:"max_tokens"`
	Temperature       *float64 `yaml:"temperature"`
}

// DocumentDefaults is applied to every submitted document before its run.
type DocumentDefaults struct {
	Template schema.Template     `yaml:"template"`
	Exclude  map[string][]string `yaml:"exclude"` // mode name -> keys
}

// LoadPipelineFile reads and checks a YAML pipeline definition.
func LoadPipelineFile(path string) (*PipelineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pf PipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	pf.applyDefaults()
	if err := pf.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &pf, nil
}

func (p *PipelineFile) applyDefaults() {
	for i := range p.Stages {
		if p.Stages[i].Name == "" {
			p.Stages[i].Name = p.Stages[i].Type
		}
	}
}

func (p *PipelineFile) validate() error {
	seen := make(map[string]bool, len(p.Stages))
	for i, s := range p.Stages {
		switch s.Type {
		case "titles", "questions":
		default:
			return fmt.Errorf("stage %d: type must be titles or questions, got %q", i, s.Type)
		}
		if seen[s.Name] {
			return fmt.Errorf("stage %d: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.Count < 0 {
			return fmt.Errorf("stage %s: count must be >= 0, got %d", s.Name, s.Count)
		}
	}
	for mode := range p.Documents.Exclude {
		if _, err := schema.ParseMode(mode); err != nil {
			return fmt.Errorf("documents.exclude: %w", err)
		}
	}
	if err := p.Documents.Template.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("documents.template: %w", err)
	}
	return nil
}

// Apply overlays the file's settings on cfg.
func (p *PipelineFile) Apply(cfg *Config) {
	if p.Chunking.ChunkSize > 0 {
		cfg.ChunkSize = p.Chunking.ChunkSize
	}
	if p.Chunking.Overlap != nil {
		cfg.ChunkOverlap = *p.Chunking.Overlap
	}
	if p.Chunking.Separator != nil {
		cfg.ChunkSeparator = *p.Chunking.Separator
	}
	if p.Chunking.Slack > 0 {
		cfg.ChunkSlack = p.Chunking.Slack
	}
	if p.ConcurrencyLimit > 0 {
		cfg.ConcurrencyLimit = p.ConcurrencyLimit
	}
	if p.FailFast != nil {
		cfg.FailFast = *p.FailFast
	}
}

// DefaultStages returns the stage list implied by the environment: titles
// then questions, skipping either when its count is zero.
func (c Config) DefaultStages() []StageConfig {
	var stages []StageConfig
	if c.TitleCount > 0 {
		stages = append(stages, StageConfig{Name: "titles", Type: "titles", Count: c.TitleCount, MaxRetries: c.MaxRetries})
	}
	if c.QuestionCount > 0 {
		stages = append(stages, StageConfig{Name: "questions", Type: "questions", Count: c.QuestionCount, MaxRetries: c.MaxRetries})
	}
	return stages
}

// ApplyTo sets the template and exclusions on doc. Template fields left
// empty in the file keep the document's own values.
func (d DocumentDefaults) ApplyTo(doc *schema.Document) error {
	if d.Template.MetadataSeparator != "" {
		doc.Template.MetadataSeparator = d.Template.MetadataSeparator
	}
	if d.Template.MetadataEntryTemplate != "" {
		doc.Template.MetadataEntryTemplate = d.Template.MetadataEntryTemplate
	}
	if d.Template.ContentTemplate != "" {
		doc.Template.ContentTemplate = d.Template.ContentTemplate
	}
	for name, keys := range d.Exclude {
		mode, err := schema.ParseMode(name)
		if err != nil {
			return err
		}
		doc.Exclude(mode, keys...)
	}
	return nil
}
