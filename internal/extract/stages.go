package extract

import (
	"fmt"

	"github.com/dgallion1/docenrich/internal/config"
	"github.com/dgallion1/docenrich/internal/llm"
	"github.com/dgallion1/docenrich/internal/pipeline"
)

// FromConfig builds the extractor a stage definition describes. maxTokens
// applies when the stage does not set its own.
func FromConfig(sc config.StageConfig, model llm.Model, maxTokens int) (*Extractor, error) {
	var key string
	var prompt PromptTemplate
	switch sc.Type {
	case "titles":
		key, prompt = TitlesKey, TitlePrompt
	case "questions":
		key, prompt = QuestionsKey, QuestionPrompt
	default:
		return nil, fmt.Errorf("stage %q: unknown type %q", sc.Name, sc.Type)
	}

	gen := llm.Options{MaxTokens: maxTokens, Temperature: sc.Temperature}
	if sc.MaxTokens > 0 {
		gen.MaxTokens = sc.MaxTokens
	}
	opts := []Option{
		WithMaxRetries(sc.MaxRetries),
		WithGenerationOptions(gen),
		WithPrompt(PromptTemplate(sc.Prompt)),
	}
	if sc.HideFromEmbedding {
		opts = append(opts, HideFromEmbedding())
	}

	name := sc.Name
	if name == "" {
		name = sc.Type
	}
	return New(name, key, prompt, model, sc.Count, opts...)
}

// Stages builds every configured stage, skipping those with a zero count.
func Stages(configs []config.StageConfig, model llm.Model, maxTokens int) ([]pipeline.EnrichStage, error) {
	stages := make([]pipeline.EnrichStage, 0, len(configs))
	for _, sc := range configs {
		if sc.Count == 0 {
			continue
		}
		e, err := FromConfig(sc, model, maxTokens)
		if err != nil {
			return nil, err
		}
		stages = append(stages, e)
	}
	return stages, nil
}
