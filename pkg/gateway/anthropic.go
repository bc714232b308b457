package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"aegisprime/pkg/logx"
)

// ClaudeGateway generates via the Anthropic Messages API. Claude has no
// native response-schema parameter, so the schema is rendered into the system
// text and the downstream parser recovers the object.
type ClaudeGateway struct {
	client anthropic.Client
	model  string
	logger *logx.Logger
}

// NewClaudeGateway creates an Anthropic-backed gateway.
func NewClaudeGateway(apiKey, model string) *ClaudeGateway {
	return &ClaudeGateway{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logx.NewLogger("gateway-claude"),
	}
}

func (c *ClaudeGateway) ModelName() string {
	return c.model
}

// Complete generates a response synchronously.
func (c *ClaudeGateway) Complete(ctx context.Context, req Request) (string, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Parts))
	for _, p := range req.Parts {
		switch {
		case !p.IsBinary():
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		case strings.HasPrefix(p.MimeType, "image/"):
			blocks = append(blocks, anthropic.NewImageBlockBase64(p.MimeType, p.Data))
		default:
			// Claude takes images only; other payloads are referenced, not sent.
			blocks = append(blocks, anthropic.NewTextBlock(
				fmt.Sprintf("[attached %s content could not be included]", p.MimeType)))
		}
	}
	if len(blocks) == 0 {
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

	system := req.Instructions
	if req.ResponseSchema != nil {
		system = strings.TrimSpace(system + "\n\n" + req.ResponseSchema.PromptHint())
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(temperature)),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}

	c.logger.Debug("generating with model %s (%d blocks, schema=%v)",
		c.model, len(blocks), req.ResponseSchema != nil)

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	if text.Len() == 0 {
		return "", NewError(ErrorTypeEmptyResponse, "Claude returned no text for model %s", c.model)
	}
	return text.String(), nil
}

// Stream is not implemented for Claude; callers fall back to Complete.
func (c *ClaudeGateway) Stream(_ context.Context, _ Request) (<-chan Chunk, error) {
	return nil, fmt.Errorf("claude gateway: %w", ErrStreamingUnsupported)
}
