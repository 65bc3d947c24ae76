package llm

import "github.com/openai/openai-go"

// ChunkKind tags the shape of a streamed model fragment.
type ChunkKind int

const (
	// ChunkUnknown is any fragment without usable text, e.g. a content
	// filter preamble with no choices.
	ChunkUnknown ChunkKind = iota
	// ChunkMessage is an incremental assistant message delta.
	ChunkMessage
	// ChunkText is a bare string produced by a text-only model.
	ChunkText
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkMessage:
		return "message"
	case ChunkText:
		return "text"
	default:
		return "unknown"
	}
}

// Chunk is one fragment of a streamed completion. Raw keeps the transport
// value for diagnostics.
type Chunk struct {
	Kind    ChunkKind
	Content string
	Raw     any
}

func MessageChunk(content string) Chunk {
	return Chunk{Kind: ChunkMessage, Content: content}
}

func TextChunk(s string) Chunk {
	return Chunk{Kind: ChunkText, Content: s, Raw: s}
}

func UnknownChunk(raw any) Chunk {
	return Chunk{Kind: ChunkUnknown, Raw: raw}
}

// FromCompletionChunk classifies a streamed chat completion chunk.
func FromCompletionChunk(c openai.ChatCompletionChunk) Chunk {
	if len(c.Choices) == 0 {
		return UnknownChunk(c)
	}
	return Chunk{Kind: ChunkMessage, Content: c.Choices[0].Delta.Content, Raw: c}
}
