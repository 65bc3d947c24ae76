// Package stream frames answer units for the chat widget: text segments,
// newline markers and a closing sentinel.
package stream

import (
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
)

const (
	// NewlinePlaceholder replaces "\n", which would otherwise end an SSE field.
	NewlinePlaceholder = "__NEWLINE__"
	// EndOfStream is always the last payload.
	EndOfStream = "end-of-stream"
)

type Kind int

const (
	KindText Kind = iota
	KindNewline
	KindEnd
)

type Event struct {
	Kind Kind
	Text string
}

// Payload is the wire form of the event.
func (e Event) Payload() string {
	switch e.Kind {
	case KindNewline:
		return NewlinePlaceholder
	case KindEnd:
		return EndOfStream
	default:
		return e.Text
	}
}

// Events splits every unit on line breaks into text segments and newline
// markers, then emits the end sentinel once units are exhausted. "\r\n",
// "\r" and "\n" each count as one line break, including a "\r\n" split
// across two units. Empty segments are never emitted.
func Events(units iter.Seq[string]) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		afterCR := false
		for unit := range units {
			if unit == "" {
				continue
			}
			rest := unit
			if afterCR && strings.HasPrefix(rest, "\n") {
				rest = rest[1:]
			}
			afterCR = false

			for {
				i := strings.IndexAny(rest, "\r\n")
				if i < 0 {
					break
				}
				if i > 0 && !yield(Event{Kind: KindText, Text: rest[:i]}) {
					return
				}
				if !yield(Event{Kind: KindNewline}) {
					return
				}
				if rest[i] == '\r' {
					switch {
					case i+1 < len(rest) && rest[i+1] == '\n':
						i++
					case i+1 == len(rest):
						afterCR = true
					}
				}
				rest = rest[i+1:]
			}
			if rest != "" && !yield(Event{Kind: KindText, Text: rest}) {
				return
			}
		}
		yield(Event{Kind: KindEnd})
	}
}

// WriteSSE writes each event as "data: <payload>\n\n", flushing after every
// event when w supports it. It stops at the first write error, which usually
// means the client disconnected.
func WriteSSE(w io.Writer, events iter.Seq[Event]) (int, error) {
	flusher, _ := w.(http.Flusher)

	n := 0
	for e := range events {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", e.Payload()); err != nil {
			return n, err
		}
		n++
		if flusher != nil {
			flusher.Flush()
		}
	}
	return n, nil
}

// SetHeaders prepares an SSE response.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
