// Package templates provides template rendering for the generation prompts
// sent through the gateway. Prompt text lives in embedded .tpl.md files so
// wording changes never touch Go code.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"aegisprime/pkg/session"
)

//go:embed *.tpl.md
var templateFS embed.FS

// PromptTemplate names one embedded prompt template.
type PromptTemplate string

const (
	// StrategyTemplate asks for a complete four-pillar strategy proposal.
	StrategyTemplate PromptTemplate = "strategy.tpl.md"
	// PillarRefineTemplate asks for one alternative pillar, holding the
	// other three fixed.
	PillarRefineTemplate PromptTemplate = "pillar_refine.tpl.md"
	// BlueprintTemplate asks for a full blueprint from a confirmed strategy.
	BlueprintTemplate PromptTemplate = "blueprint.tpl.md"
	// URLContextTemplate asks for a structured summary of fetched page text.
	URLContextTemplate PromptTemplate = "url_context.tpl.md"
	// GroundingTemplate renders stored URL context and attachment summaries
	// into a context block prepended to generation requests.
	GroundingTemplate PromptTemplate = "grounding.tpl.md"
)

// TemplateData holds the data for prompt rendering. Only the fields relevant
// to the template being rendered need to be set.
type TemplateData struct {
	Objective       string
	PillarKey       string
	Strategy        *session.Strategy
	Feedback        string
	HasAttachments  bool
	AttachmentNames []string
	Attachments     []session.Attachment
	URLContext      *session.URLContext
	URL             string
	PageText        string
}

// Renderer holds the parsed prompt templates.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
}

// NewRenderer parses every embedded template. A parse failure is a packaging
// bug and fails construction outright.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[PromptTemplate]*template.Template),
	}

	templateNames := []PromptTemplate{
		StrategyTemplate,
		PillarRefineTemplate,
		BlueprintTemplate,
		URLContextTemplate,
		GroundingTemplate,
	}

	for _, name := range templateNames {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"join": strings.Join,
		}).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// Render renders the named template with the given data.
func (r *Renderer) Render(templateName PromptTemplate, data *TemplateData) (string, error) {
	tmpl, exists := r.templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", templateName, err)
	}

	return strings.TrimSpace(buf.String()) + "\n", nil
}

// AvailableTemplates returns the names of all parsed templates.
func (r *Renderer) AvailableTemplates() []PromptTemplate {
	names := make([]PromptTemplate, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}
