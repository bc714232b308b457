// Package gateway abstracts the structured-output-capable text generation
// service behind the workflow engine. A rendered request (instructions +
// ordered context parts + desired output schema) goes in; raw text comes
// back, to be cleaned by the response parser. Provider implementations for
// Gemini, Claude, OpenAI, and Ollama live in this package and are selected by
// the factory.
package gateway

import "context"

// Part is one element of the ordered request context. Text parts are rendered
// inline; binary parts (images, audio, PDF) carry a base64 payload and are
// passed to the provider as opaque data, never inlined as text.
type Part struct {
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"` // base64-encoded binary payload
	MimeType string `json:"mime_type,omitempty"`
}

// TextPart builds an inline text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// BinaryPart builds an opaque binary part from a base64 payload.
func BinaryPart(mimeType, data string) Part {
	return Part{MimeType: mimeType, Data: data}
}

// IsBinary reports whether the part carries an opaque payload.
func (p Part) IsBinary() bool {
	return p.Data != ""
}

// Request is a rendered generation request.
type Request struct {
	Instructions   string  // fixed per-protocol system text
	Parts          []Part  // ordered context parts; ordering is significant
	ResponseSchema *Schema // desired JSON shape, nil for free text
	Temperature    float32
	MaxTokens      int
}

// Chunk is one element of a streamed response.
type Chunk struct {
	Err     error
	Content string
	Done    bool
}

// Gateway is the external collaborator contract for text generation.
type Gateway interface {
	// Complete generates a response synchronously and returns the raw text.
	Complete(ctx context.Context, req Request) (string, error)

	// Stream generates a response as a stream of chunks. Providers without
	// streaming support return ErrStreamingUnsupported; callers fall back to
	// Complete.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)

	// ModelName returns the configured model identifier.
	ModelName() string
}

// DefaultMaxTokens is applied when a request does not set a token budget.
const DefaultMaxTokens = 4096

// DefaultTemperature is applied when a request does not set a temperature.
const DefaultTemperature = 0.7
