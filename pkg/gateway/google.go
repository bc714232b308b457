package gateway

import (
	"context"
	"encoding/base64"
	"sync"

	"google.golang.org/genai"

	"aegisprime/pkg/logx"
)

// GeminiGateway generates via the Gemini API. It is the only provider with
// native response-schema enforcement, so the schema is passed through instead
// of being rendered into the instructions.
type GeminiGateway struct {
	apiKey string
	model  string
	logger *logx.Logger

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiGateway creates a Gemini-backed gateway. The API client is created
// lazily on first use because construction needs a context.
func NewGeminiGateway(apiKey, model string) *GeminiGateway {
	return &GeminiGateway{
		apiKey: apiKey,
		model:  model,
		logger: logx.NewLogger("gateway-gemini"),
	}
}

func (g *GeminiGateway) ModelName() string {
	return g.model
}

func (g *GeminiGateway) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, WrapError(ErrorTypeAuth, err, "failed to create Gemini client")
	}
	g.client = client
	return client, nil
}

func (g *GeminiGateway) buildRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.IsBinary() {
			raw, err := base64.StdEncoding.DecodeString(p.Data)
			if err != nil {
				return nil, nil, WrapError(ErrorTypeBadRequest, err, "attachment payload is not valid base64")
			}
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: p.MimeType, Data: raw},
			})
			continue
		}
		parts = append(parts, &genai.Part{Text: p.Text})
	}
	if len(parts) == 0 {
		return nil, nil, NewError(ErrorTypeBadRequest, "request has no content parts")
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(maxTokens),
	}
	if req.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.Instructions}},
		}
	}
	if req.ResponseSchema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = toGenaiSchema(req.ResponseSchema)
	}

	return []*genai.Content{{Role: "user", Parts: parts}}, config, nil
}

// Complete generates a response synchronously.
func (g *GeminiGateway) Complete(ctx context.Context, req Request) (string, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return "", err
	}
	contents, config, err := g.buildRequest(req)
	if err != nil {
		return "", err
	}

	g.logger.Debug("generating with model %s (%d parts, schema=%v)",
		g.model, len(contents[0].Parts), req.ResponseSchema != nil)

	result, err := client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", classifyError(err)
	}
	text := result.Text()
	if text == "" {
		return "", NewError(ErrorTypeEmptyResponse, "Gemini returned no text for model %s", g.model)
	}
	return text, nil
}

// Stream generates a response as incremental chunks. The channel is closed
// after the Done chunk or after an error chunk.
func (g *GeminiGateway) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	contents, config, err := g.buildRequest(req)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("streaming with model %s", g.model)

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		for resp, iterErr := range client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			if iterErr != nil {
				ch <- Chunk{Err: classifyError(iterErr)}
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			select {
			case ch <- Chunk{Content: text}:
			case <-ctx.Done():
				ch <- Chunk{Err: classifyError(ctx.Err())}
				return
			}
		}
		ch <- Chunk{Done: true}
	}()
	return ch, nil
}

func toGenaiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{Description: s.Description}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "array":
		out.Type = genai.TypeArray
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	default:
		out.Type = genai.TypeString
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	if len(s.Required) > 0 {
		out.Required = append([]string(nil), s.Required...)
	}
	if s.Items != nil {
		out.Items = toGenaiSchema(s.Items)
	}
	return out
}
