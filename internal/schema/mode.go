package schema

import (
	"fmt"
	"strings"
)

// Mode names a metadata visibility policy.
type Mode string

const (
	// ModeRaw shows every metadata key regardless of configured exclusions.
	ModeRaw Mode = "RAW"
	// ModeModel applies the exclusions configured for generative models.
	ModeModel Mode = "MODEL"
	// ModeEmbedding applies the exclusions configured for embedding models.
	ModeEmbedding Mode = "EMBEDDING"
	// ModeNone renders the text alone, with no metadata block.
	ModeNone Mode = "NONE"
)

// ParseMode accepts the canonical names and the common short aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw", "all", "":
		return ModeRaw, nil
	case "model", "llm":
		return ModeModel, nil
	case "embedding", "embed":
		return ModeEmbedding, nil
	case "none":
		return ModeNone, nil
	}
	return "", fmt.Errorf("unknown metadata mode %q", s)
}
