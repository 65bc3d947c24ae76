package chain

import (
	"context"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"rag-chatbot/internal/llm"
)

const translateInstruction = "Translate the following text to {target_lang}. Provide only the translation."

// Translator translates short texts with a chat model.
type Translator struct {
	model llm.ChatModel
}

func NewTranslator(model llm.ChatModel) *Translator {
	return &Translator{model: model}
}

func (t *Translator) Translate(ctx context.Context, text, lang string) (string, error) {
	system := strings.Replace(translateInstruction, "{target_lang}", LanguageName(lang), 1)

	return t.model.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: text},
	})
}

// LanguageName returns the English name of a BCP 47 tag ("fr" -> "French").
// Unparseable input is returned as given.
func LanguageName(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}

	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return lang
}

// IsEnglish reports whether lang is any English variant.
func IsEnglish(lang string) bool {
	tag, err := language.Parse(lang)
	if err != nil {
		return strings.EqualFold(lang, "en")
	}
	base, _ := tag.Base()
	return base.String() == "en"
}
