package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"aegisprime/pkg/logx"
)

// OpenAIGateway generates via the OpenAI Responses API. The Responses API
// takes a flat text input, so context parts are joined in order and binary
// payloads are referenced rather than sent.
type OpenAIGateway struct {
	client openai.Client
	model  string
	logger *logx.Logger
}

// NewOpenAIGateway creates an OpenAI-backed gateway.
func NewOpenAIGateway(apiKey, model string) *OpenAIGateway {
	return &OpenAIGateway{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logx.NewLogger("gateway-openai"),
	}
}

func (o *OpenAIGateway) ModelName() string {
	return o.model
}

// Complete generates a response synchronously.
func (o *OpenAIGateway) Complete(ctx context.Context, req Request) (string, error) {
	var input strings.Builder
	for _, p := range req.Parts {
		if p.IsBinary() {
			fmt.Fprintf(&input, "[attached %s content could not be included]\n\n", p.MimeType)
			continue
		}
		input.WriteString(p.Text)
		input.WriteString("\n\n")
	}
	if input.Len() == 0 {
		return "", NewError(ErrorTypeBadRequest, "request has no content parts")
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	instructions := req.Instructions
	if req.ResponseSchema != nil {
		instructions = strings.TrimSpace(instructions + "\n\n" + req.ResponseSchema.PromptHint())
	}

	params := responses.ResponseNewParams{
		Model:           shared.ResponsesModel(o.model),
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Temperature:     openai.Float(float64(temperature)),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(strings.TrimSpace(input.String())),
		},
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}

	o.logger.Debug("generating with model %s (schema=%v)", o.model, req.ResponseSchema != nil)

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}
	text := resp.OutputText()
	if text == "" {
		return "", NewError(ErrorTypeEmptyResponse, "OpenAI returned no text for model %s", o.model)
	}
	return text, nil
}

// Stream is not implemented for OpenAI; callers fall back to Complete.
func (o *OpenAIGateway) Stream(_ context.Context, _ Request) (<-chan Chunk, error) {
	return nil, fmt.Errorf("openai gateway: %w", ErrStreamingUnsupported)
}
