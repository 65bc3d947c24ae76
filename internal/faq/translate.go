package faq

import (
	"context"

	"golang.org/x/sync/errgroup"

	"rag-chatbot/internal/models"
)

// MaxConcurrentTranslations bounds in-flight translation calls per batch.
const MaxConcurrentTranslations = 16

type TextTranslator interface {
	Translate(ctx context.Context, text, lang string) (string, error)
}

// Translate translates every heading and subheading concurrently. Results
// keep the input order. Any failure fails the whole batch.
func Translate(ctx context.Context, t TextTranslator, faqs []models.FAQ, lang string) ([]models.FAQ, error) {
	out := make([]models.FAQ, len(faqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentTranslations)

	for i, f := range faqs {
		out[i].Subheading = make([]string, len(f.Subheading))

		g.Go(func() error {
			text, err := t.Translate(ctx, f.Heading, lang)
			out[i].Heading = text
			return err
		})

		for j, sub := range f.Subheading {
			g.Go(func() error {
				text, err := t.Translate(ctx, sub, lang)
				out[i].Subheading[j] = text
				return err
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}
