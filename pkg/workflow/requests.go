package workflow

import (
	"strings"

	"aegisprime/pkg/gateway"
	"aegisprime/pkg/session"
	"aegisprime/pkg/templates"
)

// assembleParts builds the ordered request context. The order is fixed:
// grounding text (URL context and attachment summaries) first, then the
// rendered prompt, then the binary attachment payloads in the order they
// were added. Deterministic ordering keeps history entries reproducible.
func (e *Engine) assembleParts(prompt string, atts []session.Attachment, urlCtx *session.URLContext) []gateway.Part {
	var parts []gateway.Part

	if urlCtx != nil || anySummary(atts) {
		grounding, err := e.renderer.Render(templates.GroundingTemplate, &templates.TemplateData{
			URLContext:  urlCtx,
			Attachments: atts,
		})
		if err != nil {
			e.logger.Warn("failed to render grounding block, continuing without it: %v", err)
		} else if strings.TrimSpace(grounding) != "" {
			parts = append(parts, gateway.TextPart(grounding))
		}
	}

	parts = append(parts, gateway.TextPart(prompt))

	for _, a := range atts {
		parts = append(parts, gateway.BinaryPart(a.MimeType, a.Data))
	}
	return parts
}

func anySummary(atts []session.Attachment) bool {
	for i := range atts {
		if atts[i].Summary != "" {
			return true
		}
	}
	return false
}
