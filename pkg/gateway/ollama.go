package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"aegisprime/pkg/logx"
)

// OllamaGateway generates via a local Ollama server. Its chat API delivers
// incremental chunks through a callback which Stream adapts to a channel.
type OllamaGateway struct {
	client *api.Client
	model  string
	logger *logx.Logger
}

// NewOllamaGateway creates a gateway against the Ollama server at host
// (e.g. "http://localhost:11434").
func NewOllamaGateway(host, model string) (*OllamaGateway, error) {
	parsed, err := url.Parse(host)
	if err != nil {
		return nil, WrapError(ErrorTypeBadRequest, err, "invalid Ollama host %q", host)
	}
	return &OllamaGateway{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
		logger: logx.NewLogger("gateway-ollama"),
	}, nil
}

func (o *OllamaGateway) ModelName() string {
	return o.model
}

func (o *OllamaGateway) buildRequest(req Request, stream bool) (*api.ChatRequest, error) {
	var content strings.Builder
	var images []api.ImageData
	for _, p := range req.Parts {
		if p.IsBinary() {
			raw, err := base64.StdEncoding.DecodeString(p.Data)
			if err != nil {
				return nil, WrapError(ErrorTypeBadRequest, err, "attachment payload is not valid base64")
			}
			images = append(images, api.ImageData(raw))
			continue
		}
		content.WriteString(p.Text)
		content.WriteString("\n\n")
	}
	if content.Len() == 0 && len(images) == 0 {
		return nil, NewError(ErrorTypeBadRequest, "request has no content parts")
	}

	var messages []api.Message
	if req.Instructions != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.Instructions})
	}
	messages = append(messages, api.Message{
		Role:    "user",
		Content: strings.TrimSpace(content.String()),
		Images:  images,
	})

	temperature := req.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	chatReq := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": float64(temperature),
			"num_predict": maxTokens,
		},
	}
	if req.ResponseSchema != nil {
		// Ollama enforces structured output natively from a JSON Schema.
		schemaDoc, err := json.Marshal(req.ResponseSchema.JSONSchema())
		if err != nil {
			return nil, WrapError(ErrorTypeBadRequest, err, "failed to encode response schema")
		}
		chatReq.Format = json.RawMessage(schemaDoc)
	}
	return chatReq, nil
}

// Complete generates a response synchronously.
func (o *OllamaGateway) Complete(ctx context.Context, req Request) (string, error) {
	chatReq, err := o.buildRequest(req, false)
	if err != nil {
		return "", err
	}

	o.logger.Debug("generating with model %s (schema=%v)", o.model, req.ResponseSchema != nil)

	var text strings.Builder
	err = o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", classifyError(err)
	}
	if text.Len() == 0 {
		return "", NewError(ErrorTypeEmptyResponse, "Ollama returned no text for model %s", o.model)
	}
	return text.String(), nil
}

// Stream generates a response as incremental chunks. The channel is closed
// after the Done chunk or after an error chunk.
func (o *OllamaGateway) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	chatReq, err := o.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("streaming with model %s", o.model)

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		err := o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				select {
				case ch <- Chunk{Content: resp.Message.Content}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
		if err != nil {
			ch <- Chunk{Err: classifyError(err)}
			return
		}
		ch <- Chunk{Done: true}
	}()
	return ch, nil
}
