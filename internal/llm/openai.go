// Package llm wraps chat completion backends behind a small interface.
package llm

import (
	"context"
	"iter"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"rag-chatbot/internal/errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// ChatModel produces a complete answer for a conversation.
type ChatModel interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// StreamingChatModel additionally yields the answer fragment by fragment.
type StreamingChatModel interface {
	ChatModel
	Stream(ctx context.Context, messages []Message) iter.Seq2[Chunk, error]
}

var _ StreamingChatModel = (*Client)(nil)

// Client talks to OpenAI or Azure OpenAI through openai-go.
type Client struct {
	name        string
	model       string
	temperature float64

	requestOptions []option.RequestOption

	client openai.Client
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.requestOptions = append(c.requestOptions, option.WithAPIKey(key))
	}
}

func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url == "" {
			return
		}
		c.requestOptions = append(c.requestOptions, option.WithBaseURL(url))
	}
}

// WithAzure targets an Azure OpenAI resource. The model passed to New is
// the deployment name.
func WithAzure(endpoint, apiVersion, key string) Option {
	return func(c *Client) {
		c.name = "azure-openai"
		c.requestOptions = append(c.requestOptions,
			azure.WithEndpoint(endpoint, apiVersion),
			azure.WithAPIKey(key),
		)
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestOptions = append(c.requestOptions, option.WithRequestTimeout(d))
		}
	}
}

func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.requestOptions = append(c.requestOptions, option.WithMaxRetries(n))
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.requestOptions = append(c.requestOptions, option.WithHTTPClient(hc))
	}
}

func New(model string, options ...Option) *Client {
	c := &Client{
		name:  "openai",
		model: model,
	}

	for _, opt := range options {
		opt(c)
	}

	c.client = openai.NewClient(c.requestOptions...)
	return c
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Generate(ctx context.Context, messages []Message) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, c.params(messages))
	if err != nil {
		return "", errors.Backend(c.name, err)
	}

	if len(completion.Choices) == 0 {
		return "", nil
	}

	return completion.Choices[0].Message.Content, nil
}

// Stream yields classified chunks until the model finishes, the context is
// cancelled or the consumer stops pulling. A transport failure is yielded
// once as the final element.
func (c *Client) Stream(ctx context.Context, messages []Message) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(messages))
		defer stream.Close()

		for stream.Next() {
			if !yield(FromCompletionChunk(stream.Current()), nil) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			yield(Chunk{}, errors.Backend(c.name, err))
		}
	}
}

func (c *Client) params(messages []Message) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    msgs,
		Temperature: openai.Float(c.temperature),
	}
}
