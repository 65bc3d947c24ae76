package faq

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rag-chatbot/internal/errors"
	"rag-chatbot/internal/models"
)

// MaxDocuments bounds the FAQ documents read per fetch.
const MaxDocuments = 1000

// faqDocument is the stored shape: one document holds a list of FAQ
// groups whose follow-ups are named "subheadings".
type faqDocument struct {
	FAQs []struct {
		Heading     string   `bson:"heading"`
		Subheadings []string `bson:"subheadings"`
	} `bson:"faqs"`
}

type MongoSource struct {
	collection *mongo.Collection
}

func NewMongoSource(collection *mongo.Collection) *MongoSource {
	return &MongoSource{collection: collection}
}

// Connect opens and pings a MongoDB (or Cosmos DB for MongoDB) client.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return client, nil
}

func (m *MongoSource) Fetch(ctx context.Context) ([]models.FAQ, error) {
	cursor, err := m.collection.Find(ctx, bson.D{}, options.Find().SetLimit(MaxDocuments))
	if err != nil {
		return nil, errors.Backend("mongo", err)
	}

	var docs []faqDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Backend("mongo", err)
	}

	faqs := []models.FAQ{}
	for _, doc := range docs {
		for _, item := range doc.FAQs {
			if item.Heading == "" {
				continue
			}
			subs := item.Subheadings
			if subs == nil {
				subs = []string{}
			}
			faqs = append(faqs, models.FAQ{Heading: item.Heading, Subheading: subs})
		}
	}

	return faqs, nil
}
