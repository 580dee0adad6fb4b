package extract

import (
	"strconv"
	"strings"
)

// PromptTemplate is an instruction with a {count} placeholder. The chunk
// passage is appended after a separator line.
type PromptTemplate string

const TitlePrompt PromptTemplate = `Propose up to {count} short titles for the following passage. A title should name the main subject of the passage so a reader scanning a list of titles can tell what it covers.

Rules:
- Each title is at most 12 words
- Use the passage's own terms for people, products and places
- Do not invent facts that are not in the passage
- Return fewer titles if the passage is too short to support {count}

Respond with ONLY a JSON array of strings, no other text.`

const QuestionPrompt PromptTemplate = `Write up to {count} questions that the following passage answers. Each question should be one a reader could ask without having seen the passage, and the passage must contain its answer.

Rules:
- Ask about specific facts, figures and names in the passage
- One sentence per question, ending with a question mark
- Do not ask about the passage itself ("What does this text say?")
- Return fewer questions if the passage does not support {count}

Respond with ONLY a JSON array of strings, no other text.`

// Build creates the full prompt for one chunk.
func (p PromptTemplate) Build(count int, passage string) string {
	var sb strings.Builder
	sb.WriteString(strings.ReplaceAll(string(p), "{count}", strconv.Itoa(count)))
	sb.WriteString("\n\n---\n")
	sb.WriteString(passage)
	return sb.String()
}
