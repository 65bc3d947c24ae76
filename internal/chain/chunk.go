package chain

import (
	"fmt"

	"rag-chatbot/internal/llm"
	"rag-chatbot/internal/logging"
)

// TranslateChunk extracts the text of a streamed fragment. ok is false for
// fragments that carry no recognizable text; those must not be forwarded.
func TranslateChunk(c llm.Chunk) (string, bool) {
	switch c.Kind {
	case llm.ChunkMessage:
		return c.Content, true
	case llm.ChunkText:
		logging.Component("chain").WithField("kind", c.Kind.String()).Warn("model streamed a bare string chunk")
		return c.Content, true
	default:
		logging.Component("chain").WithField("raw_type", fmt.Sprintf("%T", c.Raw)).Warn("skipping unrecognized stream chunk")
		return "", false
	}
}
