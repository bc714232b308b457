package workflow

import (
	"context"
	"fmt"
	"strings"

	"aegisprime/pkg/gateway"
	"aegisprime/pkg/parser"
	"aegisprime/pkg/proto"
	"aegisprime/pkg/session"
	"aegisprime/pkg/templates"
)

// SubmitObjective accepts the Director's objective and generates the initial
// four-pillar strategy proposal. On success the workflow settles in the
// strategy proposal state; any failure settles in the error state.
func (e *Engine) SubmitObjective(ctx context.Context, objective string) error {
	objective = strings.TrimSpace(objective)
	if objective == "" {
		return fmt.Errorf("objective must not be empty")
	}

	epoch, err := e.beginGeneration(proto.EventSubmitObjective, proto.StateGeneratingStrategy,
		func(s *session.State) { s.Objective = objective })
	if err != nil {
		return err
	}

	_, _, atts, urlCtx := e.sessionView()
	prompt, err := e.renderer.Render(templates.StrategyTemplate, &templates.TemplateData{
		Objective:      objective,
		HasAttachments: len(atts) > 0 || urlCtx != nil,
	})
	if err != nil {
		e.fail(epoch, err)
		return err
	}

	req := gateway.Request{
		Parts:          e.assembleParts(prompt, atts, urlCtx),
		ResponseSchema: strategySchema(),
		Temperature:    e.genCfg.Temperature,
		MaxTokens:      e.genCfg.MaxTokens,
	}

	raw, err := e.generate(ctx, session.HistoryStrategy, req)
	if err != nil {
		e.fail(epoch, err)
		return err
	}

	strategy, err := parser.ParseStrategy(raw)
	if err != nil {
		wrapped := gateway.WrapError(gateway.ErrorTypeFormat, err, "strategy response rejected")
		e.fail(epoch, wrapped)
		return wrapped
	}

	e.settle(epoch, proto.StateStrategyProposal, func(s *session.State) {
		s.Strategy = strategy
		e.recordHistoryLocked(session.HistoryStrategy, prompt, raw, "")
	})
	return nil
}

// RequestPillarRefinement regenerates one strategy pillar, holding the other
// three fixed. Only the named pillar is replaced; a refinement never touches
// the rest of the strategy.
func (e *Engine) RequestPillarRefinement(ctx context.Context, key proto.PillarKey) error {
	if _, err := proto.ParsePillarKey(key.String()); err != nil {
		return err
	}

	epoch, err := e.beginGeneration(proto.EventRequestPillarRefinement, proto.StateRefiningPillar,
		func(*session.State) { e.refining = key })
	if err != nil {
		return err
	}

	objective, strategy, atts, urlCtx := e.sessionView()
	if strategy == nil {
		wrapped := fmt.Errorf("no strategy to refine")
		e.fail(epoch, wrapped)
		return wrapped
	}

	prompt, err := e.renderer.Render(templates.PillarRefineTemplate, &templates.TemplateData{
		Objective:      objective,
		Strategy:       strategy,
		PillarKey:      key.String(),
		HasAttachments: len(atts) > 0 || urlCtx != nil,
	})
	if err != nil {
		e.fail(epoch, err)
		return err
	}

	req := gateway.Request{
		Parts:          e.assembleParts(prompt, atts, urlCtx),
		ResponseSchema: pillarSchema(fmt.Sprintf("A new alternative for the %s pillar.", key)),
		Temperature:    e.genCfg.Temperature,
		MaxTokens:      e.genCfg.MaxTokens,
	}

	raw, err := e.generate(ctx, session.HistoryPillarRefinement, req)
	if err != nil {
		e.fail(epoch, err)
		return err
	}

	pillar, err := parser.ParsePillar(raw)
	if err != nil {
		wrapped := gateway.WrapError(gateway.ErrorTypeFormat, err, "pillar response rejected")
		e.fail(epoch, wrapped)
		return wrapped
	}

	strategyContext := summarizeStrategy(strategy)
	e.settle(epoch, proto.StateStrategyProposal, func(s *session.State) {
		s.Strategy.SetPillar(key, *pillar)
		e.recordHistoryLocked(session.HistoryPillarRefinement, prompt, raw, strategyContext)
	})
	return nil
}

// ConfirmStrategy locks in the proposed strategy and generates the blueprint.
func (e *Engine) ConfirmStrategy(ctx context.Context) error {
	epoch, err := e.beginGeneration(proto.EventConfirmStrategy, proto.StateGeneratingBlueprint, nil)
	if err != nil {
		return err
	}
	return e.generateBlueprint(ctx, epoch, "", session.HistoryBlueprint)
}

// RequestBlueprintRefinement regenerates the blueprint with the Director's
// feedback folded in. The blueprint is replaced whole.
func (e *Engine) RequestBlueprintRefinement(ctx context.Context, feedback string) error {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return fmt.Errorf("refinement feedback must not be empty")
	}

	epoch, err := e.beginGeneration(proto.EventRequestBlueprintRefinement, proto.StateRefiningBlueprint, nil)
	if err != nil {
		return err
	}
	return e.generateBlueprint(ctx, epoch, feedback, session.HistoryBlueprintRefinement)
}

func (e *Engine) generateBlueprint(ctx context.Context, epoch int, feedback string, kind session.HistoryKind) error {
	objective, strategy, atts, urlCtx := e.sessionView()
	if strategy == nil {
		wrapped := fmt.Errorf("no confirmed strategy for blueprint generation")
		e.fail(epoch, wrapped)
		return wrapped
	}
	if err := strategy.Validate(); err != nil {
		e.fail(epoch, err)
		return err
	}

	prompt, err := e.renderer.Render(templates.BlueprintTemplate, &templates.TemplateData{
		Objective:      objective,
		Strategy:       strategy,
		Feedback:       feedback,
		HasAttachments: len(atts) > 0 || urlCtx != nil,
	})
	if err != nil {
		e.fail(epoch, err)
		return err
	}

	req := gateway.Request{
		Parts:          e.assembleParts(prompt, atts, urlCtx),
		ResponseSchema: blueprintSchema(),
		Temperature:    e.genCfg.Temperature,
		MaxTokens:      e.genCfg.MaxTokens,
	}

	raw, err := e.generate(ctx, kind, req)
	if err != nil {
		e.fail(epoch, err)
		return err
	}

	blueprint, err := parser.ParseBlueprint(raw)
	if err != nil {
		wrapped := gateway.WrapError(gateway.ErrorTypeFormat, err, "blueprint response rejected")
		e.fail(epoch, wrapped)
		return wrapped
	}

	strategyContext := summarizeStrategy(strategy)
	e.settle(epoch, proto.StateBlueprintProposal, func(s *session.State) {
		s.Blueprint = blueprint
		if kind == session.HistoryBlueprintRefinement {
			e.refinements++
		}
		e.recordHistoryLocked(kind, prompt, raw, strategyContext)
	})
	return nil
}

// FinalizeBlueprint accepts the current blueprint and ends the run. No
// generation call is made; raising it twice is an illegal event the second
// time because the finalized state does not accept it.
func (e *Engine) FinalizeBlueprint() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !proto.IsLegalEvent(e.state, proto.EventFinalizeBlueprint) {
		return e.rejectEvent(proto.EventFinalizeBlueprint)
	}

	e.logEvent(proto.EventFinalizeBlueprint, "")
	e.setStateLocked(e.state, proto.StateFinalized)
	e.persistLocked()
	e.logger.Info("session %s finalized", e.sess.ID)
	return nil
}

// AddURLContext analyzes fetched page text into a structured summary stored
// as grounding material. Allowed only before the objective is submitted; the
// workflow state does not change, and a failure here does not enter the error
// state because no run is underway yet.
func (e *Engine) AddURLContext(ctx context.Context, url, pageText string) error {
	url = strings.TrimSpace(url)
	if url == "" || strings.TrimSpace(pageText) == "" {
		return fmt.Errorf("url and page text must not be empty")
	}

	e.mu.Lock()
	if e.state != proto.StateAwaitingObjective {
		e.mu.Unlock()
		return fmt.Errorf("%w: url context can only be added before the objective", ErrIllegalEvent)
	}
	epoch := e.epoch
	e.mu.Unlock()

	// Fetched pages can be arbitrarily large; cap the text at half the token
	// budget so the analysis prompt always fits under it.
	pageText = e.counter.TruncateToTokenLimit(pageText, e.genCfg.TokenBudget/2)

	prompt, err := e.renderer.Render(templates.URLContextTemplate, &templates.TemplateData{
		URL:      url,
		PageText: pageText,
	})
	if err != nil {
		return err
	}

	req := gateway.Request{
		Parts:          []gateway.Part{gateway.TextPart(prompt)},
		ResponseSchema: urlContextSchema(),
		Temperature:    e.genCfg.Temperature,
		MaxTokens:      e.genCfg.MaxTokens,
	}

	raw, err := e.generate(ctx, session.HistoryURLContext, req)
	if err != nil {
		return err
	}

	urlCtx, err := parser.ParseURLContext(raw)
	if err != nil {
		return gateway.WrapError(gateway.ErrorTypeFormat, err, "url context response rejected")
	}
	if urlCtx.URL == "" {
		urlCtx.URL = url
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch {
		return nil
	}
	e.sess.URLContext = urlCtx
	e.recordHistoryLocked(session.HistoryURLContext, prompt, raw, "")
	e.persistLocked()
	return nil
}

// AddAttachment registers grounding material supplied alongside the
// objective. Allowed only before the objective is submitted.
func (e *Engine) AddAttachment(name, mimeType, data string, size int64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != proto.StateAwaitingObjective {
		return "", fmt.Errorf("%w: attachments can only be added before the objective", ErrIllegalEvent)
	}
	id := e.sess.AddAttachment(name, mimeType, data, size)
	e.persistLocked()
	return id, nil
}

// SetAttachmentSummary attaches a short description rendered into the request
// context alongside the binary payload.
func (e *Engine) SetAttachmentSummary(id, summary string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.sess.Attachments {
		if e.sess.Attachments[i].ID == id {
			e.sess.Attachments[i].Summary = strings.TrimSpace(summary)
			e.persistLocked()
			return nil
		}
	}
	return fmt.Errorf("no attachment with id %s", id)
}

// RemoveAttachment drops a registered attachment. Allowed only before the
// objective is submitted.
func (e *Engine) RemoveAttachment(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != proto.StateAwaitingObjective {
		return fmt.Errorf("%w: attachments can only be removed before the objective", ErrIllegalEvent)
	}
	if !e.sess.RemoveAttachment(id) {
		return fmt.Errorf("no attachment with id %s", id)
	}
	e.persistLocked()
	return nil
}

// summarizeStrategy renders the pillar titles for history context.
func summarizeStrategy(s *session.Strategy) string {
	return fmt.Sprintf("persona=%s; audience=%s; format=%s; tone=%s",
		s.Persona.Title, s.Audience.Title, s.Format.Title, s.Tone.Title)
}
