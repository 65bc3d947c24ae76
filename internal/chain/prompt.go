package chain

import (
	"strings"

	"rag-chatbot/internal/llm"
	"rag-chatbot/internal/models"
)

// HumanTemplate is the user turn of the question answering prompt.
const HumanTemplate = "Question: {question}\nContext: {context}"

// PassageSeparator joins retrieved passages into the context block.
const PassageSeparator = "\n\n"

type Prompt struct {
	System string
	Human  string
}

func NewPrompt(system string) Prompt {
	return Prompt{System: system, Human: HumanTemplate}
}

// Messages renders the prompt. Substitution is single pass, so placeholders
// inside the question or context are left as typed.
func (p Prompt) Messages(question, context string) []llm.Message {
	r := strings.NewReplacer("{question}", question, "{context}", context)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: p.System},
		{Role: llm.RoleUser, Content: r.Replace(p.Human)},
	}
}

func FormatPassages(passages []models.Passage) string {
	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = p.Content
	}
	return strings.Join(parts, PassageSeparator)
}
