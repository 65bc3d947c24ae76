package models

import (
	"io"
	"time"

	"github.com/google/uuid"
)

// Passage is one retrieved document chunk. Metadata carries at least a
// "source" entry when the backend provides one.
type Passage struct {
	ID       string         `json:"id,omitempty"`
	Content  string         `json:"page_content"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score,omitempty"`
}

func NewPassage(content, source string) *Passage {
	return &Passage{
		ID:       uuid.New().String(),
		Content:  content,
		Metadata: map[string]any{"source": source},
	}
}

// Source returns the passage source identifier, or "" if none was stored.
func (p Passage) Source() string {
	if s, ok := p.Metadata["source"].(string); ok {
		return s
	}
	return ""
}

// Answer is the result of a non-streaming query.
type Answer struct {
	Result          string    `json:"result"`
	SourceDocuments []Passage `json:"source_documents"`
}

// AuditRecord is a user query captured for analytics.
type AuditRecord struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
}

func NewAuditRecord(query string, at time.Time) AuditRecord {
	return AuditRecord{
		ID:        uuid.New().String(),
		Query:     query,
		Timestamp: at.UTC(),
	}
}

type FAQ struct {
	Heading    string   `json:"heading"`
	Subheading []string `json:"subheading"`
}

// Audio is an uploaded recording awaiting transcription.
type Audio struct {
	Filename    string
	ContentType string
	Data        io.Reader
}

type QueryRequest struct {
	UserMessage string `json:"userMessage"`
}

type TranscriptionResponse struct {
	Transcription string `json:"transcription"`
}

// FrequencyBucket counts matching queries in one UTC hour.
type FrequencyBucket struct {
	Datetime  string `json:"datetime"`
	Frequency int    `json:"frequency"`
}

type QueryFrequency struct {
	Frequency int               `json:"frequency"`
	Result    []FrequencyBucket `json:"result"`
}

type DeleteResult struct {
	Message        string `json:"message,omitempty"`
	Deleted        any    `json:"deleted,omitempty"`
	DeletedBatches []any  `json:"deleted_batches,omitempty"`
	TotalDeleted   int    `json:"total_deleted"`
}

type HealthResponse struct {
	Status  string   `json:"status"`
	Tenants []string `json:"tenants"`
}

// Template is the per-tenant branding handed to the chat widget.
type Template struct {
	Title                string `json:"title" koanf:"title"`
	HeroImg              string `json:"hero_img" koanf:"hero_img"`
	HeroOverlayImg       string `json:"hero_overlay_img" koanf:"hero_overlay_img"`
	ChatbotButtonImg     string `json:"chatbot_button_img" koanf:"chatbot_button_img"`
	ChatbotBackgroundImg string `json:"chatbot_background_img" koanf:"chatbot_background_img"`
	HeroAlt              string `json:"hero_alt" koanf:"hero_alt"`
	ChatbotName          string `json:"chatbot_name" koanf:"chatbot_name"`
	UnifiedColor         string `json:"unified_color" koanf:"unified_color"`
	UnifiedColorLight    string `json:"unified_color_light" koanf:"unified_color_light"`
	UnifiedColorDark     string `json:"unified_color_dark" koanf:"unified_color_dark"`
	UnifiedColorSecond   string `json:"unified_color_secondary" koanf:"unified_color_secondary"`
	TextColor            string `json:"text_color" koanf:"text_color"`
	APIBaseURL           string `json:"api_base_url" koanf:"-"`
}
