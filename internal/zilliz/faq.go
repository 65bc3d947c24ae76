package zilliz

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"rag-chatbot/internal/models"
)

// faqLimit caps a single FAQ read.
const faqLimit = 100

// FAQSource reads FAQs stored in the "faq" field of a collection. The field
// may hold a plain question or a {heading, subheading(s)} object.
type FAQSource struct {
	client     *Client
	collection string
}

func NewFAQSource(client *Client, collection string) *FAQSource {
	if collection == "" {
		collection = "faq_collection"
	}
	return &FAQSource{client: client, collection: collection}
}

func (s *FAQSource) Fetch(ctx context.Context) ([]models.FAQ, error) {
	rows, err := s.client.query(ctx, milvusclient.NewQueryOption(s.collection).
		WithOutputFields("faq").
		WithLimit(faqLimit))
	if err != nil {
		return nil, err
	}

	faqs := make([]models.FAQ, 0, len(rows))
	for _, row := range rows {
		v, ok := row["faq"]
		if !ok {
			continue
		}
		faq, err := decodeFAQ(v)
		if err != nil {
			return nil, err
		}
		if faq.Heading == "" {
			continue
		}
		faqs = append(faqs, faq)
	}

	return faqs, nil
}

func decodeFAQ(v any) (models.FAQ, error) {
	switch f := v.(type) {
	case []byte:
		return decodeJSONFAQ(f)
	case json.RawMessage:
		return decodeJSONFAQ(f)
	case string:
		// JSON fields can arrive as encoded strings
		var obj map[string]any
		if json.Unmarshal([]byte(f), &obj) == nil {
			return faqFromMap(obj), nil
		}
		return models.FAQ{Heading: f, Subheading: []string{}}, nil
	case map[string]any:
		return faqFromMap(f), nil
	default:
		return models.FAQ{}, fmt.Errorf("unexpected faq value of type %T", v)
	}
}

// decodeJSONFAQ reads the value of a JSON field, which holds either an
// object or a bare string.
func decodeJSONFAQ(raw []byte) (models.FAQ, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return models.FAQ{}, fmt.Errorf("decode faq: %w", err)
	}
	return decodeFAQ(v)
}

func faqFromMap(m map[string]any) models.FAQ {
	faq := models.FAQ{Subheading: []string{}}
	faq.Heading, _ = m["heading"].(string)

	subs, ok := m["subheading"].([]any)
	if !ok {
		subs, _ = m["subheadings"].([]any)
	}
	for _, s := range subs {
		if str, ok := s.(string); ok {
			faq.Subheading = append(faq.Subheading, str)
		}
	}
	return faq
}
