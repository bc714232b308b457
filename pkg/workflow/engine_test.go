package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegisprime/pkg/config"
	"aegisprime/pkg/gateway"
	"aegisprime/pkg/persistence"
	"aegisprime/pkg/proto"
	"aegisprime/pkg/session"
)

const strategyJSON = `{
	"persona": {"title": "The Seasoned Mentor", "description": "A patient expert."},
	"audience": {"title": "Junior Engineers", "description": "Early-career developers."},
	"format": {"title": "Step-by-Step Guide", "description": "Numbered instructions."},
	"tone": {"title": "Encouraging", "description": "Supportive and direct."}
}`

const pillarJSON = `{"title": "The Skeptic", "description": "Questions every assumption."}`

const blueprintJSON = `{
	"prompt": "You are a seasoned mentor...",
	"analysis": "Leans on the persona and tone pillars.",
	"suggestions": ["Use as-is", "Tighten the audience line"]
}`

const blueprintRefinedJSON = `{
	"prompt": "You are a seasoned mentor, briefly...",
	"analysis": "Shortened per feedback.",
	"suggestions": ["Use as-is"]
}`

type fakeResult struct {
	text string
	err  error
}

type fakeGateway struct {
	mu       sync.Mutex
	queue    []fakeResult
	delay    time.Duration
	requests []gateway.Request
}

func (f *fakeGateway) Complete(ctx context.Context, req gateway.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	res := fakeResult{text: "{}"}
	if len(f.queue) > 0 {
		res = f.queue[0]
		f.queue = f.queue[1:]
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return res.text, res.err
}

func (f *fakeGateway) Stream(_ context.Context, _ gateway.Request) (<-chan gateway.Chunk, error) {
	return nil, fmt.Errorf("fake gateway: %w", gateway.ErrStreamingUnsupported)
}

func (f *fakeGateway) ModelName() string { return "fake-model" }

func (f *fakeGateway) lastRequest(t *testing.T) gateway.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func testGenConfig() config.GenerationConfig {
	return config.GenerationConfig{
		Temperature:    0.7,
		MaxTokens:      512,
		TimeoutSeconds: 5,
		TokenBudget:    16000,
	}
}

func newTestEngine(t *testing.T, fake *fakeGateway, opts ...Option) *Engine {
	t.Helper()
	engine, err := NewEngine(fake, "fake", testGenConfig(), opts...)
	require.NoError(t, err)
	return engine
}

func advanceToStrategyProposal(t *testing.T, engine *Engine, fake *fakeGateway) {
	t.Helper()
	fake.mu.Lock()
	fake.queue = append(fake.queue, fakeResult{text: strategyJSON})
	fake.mu.Unlock()
	require.NoError(t, engine.SubmitObjective(context.Background(), "Write a launch email"))
	require.Equal(t, proto.StateStrategyProposal, engine.Project().State)
}

func advanceToBlueprintProposal(t *testing.T, engine *Engine, fake *fakeGateway) {
	t.Helper()
	advanceToStrategyProposal(t, engine, fake)
	fake.mu.Lock()
	fake.queue = append(fake.queue, fakeResult{text: blueprintJSON})
	fake.mu.Unlock()
	require.NoError(t, engine.ConfirmStrategy(context.Background()))
	require.Equal(t, proto.StateBlueprintProposal, engine.Project().State)
}

func TestSubmitObjectiveHappyPath(t *testing.T) {
	fake := &fakeGateway{queue: []fakeResult{{text: strategyJSON}}}
	engine := newTestEngine(t, fake)

	require.NoError(t, engine.SubmitObjective(context.Background(), "Write a launch email"))

	p := engine.Project()
	assert.Equal(t, proto.StateStrategyProposal, p.State)
	assert.Equal(t, "Write a launch email", p.Objective)
	require.NotNil(t, p.Strategy)
	assert.Equal(t, "The Seasoned Mentor", p.Strategy.Persona.Title)

	history := engine.History()
	require.Len(t, history, 1)
	assert.Equal(t, session.HistoryStrategy, history[0].Kind)
	assert.Contains(t, history[0].Prompt, "Write a launch email")
	assert.Equal(t, strategyJSON, history[0].Response)

	req := fake.lastRequest(t)
	assert.NotNil(t, req.ResponseSchema)
	assert.Equal(t, float32(0.7), req.Temperature)
}

func TestSubmitObjectiveEmptyRejected(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)

	assert.Error(t, engine.SubmitObjective(context.Background(), "   "))
	assert.Equal(t, proto.StateAwaitingObjective, engine.Project().State)
	assert.Empty(t, fake.requests, "no generation call for a rejected objective")
}

func TestIllegalEventsAreNoOps(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)

	err := engine.ConfirmStrategy(context.Background())
	assert.ErrorIs(t, err, ErrIllegalEvent)
	assert.Equal(t, proto.StateAwaitingObjective, engine.Project().State)

	err = engine.RequestPillarRefinement(context.Background(), proto.PillarTone)
	assert.ErrorIs(t, err, ErrIllegalEvent)

	err = engine.RequestBlueprintRefinement(context.Background(), "feedback")
	assert.ErrorIs(t, err, ErrIllegalEvent)

	err = engine.FinalizeBlueprint()
	assert.ErrorIs(t, err, ErrIllegalEvent)

	assert.Equal(t, proto.StateAwaitingObjective, engine.Project().State)
	assert.Empty(t, fake.requests)
}

func TestPillarRefinementReplacesOnlyTarget(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)
	advanceToStrategyProposal(t, engine, fake)

	fake.mu.Lock()
	fake.queue = append(fake.queue, fakeResult{text: pillarJSON})
	fake.mu.Unlock()
	require.NoError(t, engine.RequestPillarRefinement(context.Background(), proto.PillarTone))

	p := engine.Project()
	assert.Equal(t, proto.StateStrategyProposal, p.State)
	assert.Equal(t, "The Skeptic", p.Strategy.Tone.Title)
	assert.Equal(t, "The Seasoned Mentor", p.Strategy.Persona.Title)
	assert.Equal(t, "Junior Engineers", p.Strategy.Audience.Title)
	assert.Equal(t, "Step-by-Step Guide", p.Strategy.Format.Title)

	history := engine.History()
	require.Len(t, history, 2)
	assert.Equal(t, session.HistoryPillarRefinement, history[1].Kind)
	assert.Contains(t, history[1].StrategyContext, "persona=The Seasoned Mentor")
}

func TestRefiningPillarVisibleInFlight(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)
	advanceToStrategyProposal(t, engine, fake)

	fake.mu.Lock()
	fake.delay = 500 * time.Millisecond
	fake.queue = append(fake.queue, fakeResult{text: pillarJSON})
	fake.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- engine.RequestPillarRefinement(context.Background(), proto.PillarTone) }()

	require.Eventually(t, func() bool {
		return engine.Project().State == proto.StateRefiningPillar
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, proto.PillarTone, engine.Project().RefiningPillar)

	require.NoError(t, <-done)
	assert.Empty(t, engine.Project().RefiningPillar, "cleared once the call settles")
}

func TestPillarRefinementUnknownKeyRejected(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)
	advanceToStrategyProposal(t, engine, fake)

	err := engine.RequestPillarRefinement(context.Background(), proto.PillarKey("style"))
	assert.Error(t, err)
	assert.Equal(t, proto.StateStrategyProposal, engine.Project().State)
}

func TestConfirmStrategyGeneratesBlueprint(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)
	advanceToBlueprintProposal(t, engine, fake)

	p := engine.Project()
	require.NotNil(t, p.Blueprint)
	assert.Equal(t, "You are a seasoned mentor...", p.Blueprint.Prompt)
	assert.Len(t, p.Blueprint.Suggestions, 2)

	// The rendered prompt carries the full confirmed strategy.
	req := fake.lastRequest(t)
	var promptText string
	for _, part := range req.Parts {
		if !part.IsBinary() {
			promptText += part.Text
		}
	}
	assert.Contains(t, promptText, "The Seasoned Mentor - A patient expert.")
}

func TestConfirmStrategyNotIdempotent(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)
	advanceToBlueprintProposal(t, engine, fake)

	// A second confirm arrives from a stale caller; the blueprint proposal
	// state does not accept it and nothing regenerates.
	before := len(fake.requests)
	err := engine.ConfirmStrategy(context.Background())
	assert.ErrorIs(t, err, ErrIllegalEvent)
	assert.Equal(t, before, len(fake.requests))
	assert.Equal(t, proto.StateBlueprintProposal, engine.Project().State)
}

func TestBlueprintRefinementReplacesWhole(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)
	advanceToBlueprintProposal(t, engine, fake)

	fake.mu.Lock()
	fake.queue = append(fake.queue, fakeResult{text: blueprintRefinedJSON})
	fake.mu.Unlock()
	require.NoError(t, engine.RequestBlueprintRefinement(context.Background(), "Make it shorter"))

	p := engine.Project()
	assert.Equal(t, proto.StateBlueprintProposal, p.State)
	assert.Equal(t, "You are a seasoned mentor, briefly...", p.Blueprint.Prompt)
	assert.Len(t, p.Blueprint.Suggestions, 1, "the blueprint is replaced whole")
	assert.Equal(t, 1, p.RefinementRounds)

	req := fake.lastRequest(t)
	var promptText string
	for _, part := range req.Parts {
		promptText += part.Text
	}
	assert.Contains(t, promptText, "Make it shorter")
}

func TestBlueprintRefinementEmptyFeedbackRejected(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)
	advanceToBlueprintProposal(t, engine, fake)

	before := len(fake.requests)
	assert.Error(t, engine.RequestBlueprintRefinement(context.Background(), "  "))
	assert.Equal(t, before, len(fake.requests))
	assert.Equal(t, proto.StateBlueprintProposal, engine.Project().State)
}

func TestConvergenceHintIsAdvisory(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)
	advanceToBlueprintProposal(t, engine, fake)

	for i := 0; i < convergenceAdvisoryRounds; i++ {
		fake.mu.Lock()
		fake.queue = append(fake.queue, fakeResult{text: blueprintRefinedJSON})
		fake.mu.Unlock()
		require.NoError(t, engine.RequestBlueprintRefinement(context.Background(), "again"))
	}

	p := engine.Project()
	assert.True(t, p.ConvergenceHint)

	// Advisory only: refinement is still accepted.
	fake.mu.Lock()
	fake.queue = append(fake.queue, fakeResult{text: blueprintRefinedJSON})
	fake.mu.Unlock()
	assert.NoError(t, engine.RequestBlueprintRefinement(context.Background(), "one more"))
}

func TestFinalizeBlueprint(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)
	advanceToBlueprintProposal(t, engine, fake)

	require.NoError(t, engine.FinalizeBlueprint())
	p := engine.Project()
	assert.Equal(t, proto.StateFinalized, p.State)
	assert.NotNil(t, p.Blueprint, "finalize keeps the blueprint")

	err := engine.FinalizeBlueprint()
	assert.ErrorIs(t, err, ErrIllegalEvent, "finalize is not accepted twice")
}

func TestGenerationFailureEntersErrorState(t *testing.T) {
	fake := &fakeGateway{queue: []fakeResult{{err: gateway.NewError(gateway.ErrorTypeTransient, "overloaded")}}}
	engine := newTestEngine(t, fake)

	err := engine.SubmitObjective(context.Background(), "objective")
	assert.Error(t, err)

	p := engine.Project()
	assert.Equal(t, proto.StateError, p.State)
	assert.Contains(t, p.LastError, "overloaded")
	assert.Equal(t, []proto.Event{proto.EventStartNewSession}, p.LegalEvents)
}

func TestMalformedResponseEntersErrorState(t *testing.T) {
	fake := &fakeGateway{queue: []fakeResult{{text: "I refuse to answer in JSON."}}}
	engine := newTestEngine(t, fake)

	err := engine.SubmitObjective(context.Background(), "objective")
	assert.Error(t, err)
	assert.True(t, gateway.Is(err, gateway.ErrorTypeFormat))
	assert.Equal(t, proto.StateError, engine.Project().State)
}

func TestMalformedBlueprintKeepsStrategy(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)
	advanceToStrategyProposal(t, engine, fake)

	// Missing the suggestions field, a schema-validation failure.
	fake.mu.Lock()
	fake.queue = append(fake.queue, fakeResult{text: `{"prompt": "p", "analysis": "a"}`})
	fake.mu.Unlock()

	err := engine.ConfirmStrategy(context.Background())
	assert.Error(t, err)
	assert.True(t, gateway.Is(err, gateway.ErrorTypeFormat))

	p := engine.Project()
	assert.Equal(t, proto.StateError, p.State)
	assert.Contains(t, p.LastError, "format")
	require.NotNil(t, p.Strategy, "the confirmed strategy survives a failed blueprint call")
	assert.Equal(t, "The Seasoned Mentor", p.Strategy.Persona.Title)
	assert.Nil(t, p.Blueprint)
}

func TestTimeoutEntersErrorState(t *testing.T) {
	fake := &fakeGateway{delay: 2 * time.Second}
	engine, err := NewEngine(fake, "fake", config.GenerationConfig{
		Temperature:    0.7,
		MaxTokens:      512,
		TimeoutSeconds: 1,
		TokenBudget:    16000,
	})
	require.NoError(t, err)

	start := time.Now()
	err = engine.SubmitObjective(context.Background(), "objective")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "deadline must cut the call short")
	assert.Equal(t, proto.StateError, engine.Project().State)
}

func TestTokenBudgetEnforced(t *testing.T) {
	fake := &fakeGateway{}
	engine, err := NewEngine(fake, "fake", config.GenerationConfig{
		Temperature:    0.7,
		MaxTokens:      512,
		TimeoutSeconds: 5,
		TokenBudget:    20,
	})
	require.NoError(t, err)

	err = engine.SubmitObjective(context.Background(),
		strings.Repeat("an extremely long objective ", 50))
	assert.Error(t, err)
	assert.True(t, gateway.Is(err, gateway.ErrorTypeBadRequest))
	assert.Empty(t, fake.requests, "over-budget requests never reach the provider")
	assert.Equal(t, proto.StateError, engine.Project().State)
}

func TestStartNewSessionFromErrorState(t *testing.T) {
	fake := &fakeGateway{queue: []fakeResult{{err: errors.New("boom")}}}
	engine := newTestEngine(t, fake)

	_ = engine.SubmitObjective(context.Background(), "objective")
	require.Equal(t, proto.StateError, engine.Project().State)

	engine.StartNewSession()
	p := engine.Project()
	assert.Equal(t, proto.StateAwaitingObjective, p.State)
	assert.Empty(t, p.Objective)
	assert.Empty(t, p.LastError)
	assert.Nil(t, p.Strategy)
	assert.Empty(t, engine.History())
}

func TestStartNewSessionFromFinalized(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)
	advanceToBlueprintProposal(t, engine, fake)
	require.NoError(t, engine.FinalizeBlueprint())

	oldID := engine.Project().SessionID
	engine.StartNewSession()
	p := engine.Project()
	assert.Equal(t, proto.StateAwaitingObjective, p.State)
	assert.NotEqual(t, oldID, p.SessionID)
	assert.Nil(t, p.Blueprint)
}

func TestStartNewSessionCancelsInFlightCall(t *testing.T) {
	fake := &fakeGateway{delay: 3 * time.Second, queue: []fakeResult{{text: strategyJSON}}}
	engine := newTestEngine(t, fake)

	done := make(chan error, 1)
	go func() {
		done <- engine.SubmitObjective(context.Background(), "objective")
	}()

	// Wait for the transient state before resetting.
	require.Eventually(t, func() bool {
		return engine.Project().State == proto.StateGeneratingStrategy
	}, time.Second, 5*time.Millisecond)

	engine.StartNewSession()
	assert.Equal(t, proto.StateAwaitingObjective, engine.Project().State)

	select {
	case err := <-done:
		assert.Error(t, err, "the abandoned call reports cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled call did not return promptly")
	}

	// The abandoned call must not settle into the fresh session.
	p := engine.Project()
	assert.Equal(t, proto.StateAwaitingObjective, p.State)
	assert.Nil(t, p.Strategy)
	assert.Empty(t, p.Objective)
}

func TestAttachmentsOnlyBeforeObjective(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)

	id, err := engine.AddAttachment("chart.png", "image/png", "aGVsbG8=", 5)
	require.NoError(t, err)
	require.NoError(t, engine.SetAttachmentSummary(id, "Q3 revenue"))

	advanceToStrategyProposal(t, engine, fake)

	_, err = engine.AddAttachment("late.png", "image/png", "eA==", 1)
	assert.ErrorIs(t, err, ErrIllegalEvent)
	assert.ErrorIs(t, engine.RemoveAttachment(id), ErrIllegalEvent)

	// The attachment travels with the request as a binary part.
	req := fake.lastRequest(t)
	var binary int
	for _, part := range req.Parts {
		if part.IsBinary() {
			binary++
			assert.Equal(t, "image/png", part.MimeType)
		}
	}
	assert.Equal(t, 1, binary)
}

func TestURLContextGrounding(t *testing.T) {
	fake := &fakeGateway{queue: []fakeResult{
		{text: `{"url": "https://example.com", "title": "Example", "summary": "Sum", "key_points": ["k"], "source_credibility": "High"}`},
		{text: strategyJSON},
	}}
	engine := newTestEngine(t, fake)

	require.NoError(t, engine.AddURLContext(context.Background(), "https://example.com", "page body"))
	p := engine.Project()
	assert.Equal(t, proto.StateAwaitingObjective, p.State, "url analysis does not advance the workflow")
	require.NotNil(t, p.URLContext)
	assert.Equal(t, "Example", p.URLContext.Title)

	require.NoError(t, engine.SubmitObjective(context.Background(), "objective"))

	req := fake.lastRequest(t)
	require.NotEmpty(t, req.Parts)
	assert.Contains(t, req.Parts[0].Text, "Reference context from https://example.com",
		"grounding block leads the request")
}

func TestURLContextRejectedAfterObjective(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)
	advanceToStrategyProposal(t, engine, fake)

	err := engine.AddURLContext(context.Background(), "https://example.com", "body")
	assert.ErrorIs(t, err, ErrIllegalEvent)
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "aegis.db")
	store, err := persistence.Open(dbPath)
	require.NoError(t, err)

	fake := &fakeGateway{}
	engine := newTestEngine(t, fake, WithStore(store))
	advanceToBlueprintProposal(t, engine, fake)
	sessionID := engine.Project().SessionID
	require.NoError(t, store.Close())

	// Simulate a restart: reopen the database and restore.
	store2, err := persistence.Open(dbPath)
	require.NoError(t, err)
	defer func() { _ = store2.Close() }()

	snap, err := store2.LoadSnapshot(persistence.DefaultSnapshotKey)
	require.NoError(t, err)

	fake2 := &fakeGateway{}
	engine2 := newTestEngine(t, fake2, WithStore(store2))
	require.NoError(t, engine2.Restore(snap))

	p := engine2.Project()
	assert.Equal(t, proto.StateBlueprintProposal, p.State)
	assert.Equal(t, sessionID, p.SessionID)
	require.NotNil(t, p.Blueprint)
	assert.Equal(t, "You are a seasoned mentor...", p.Blueprint.Prompt)

	// History rows survived alongside the snapshot.
	entries, err := store2.ListHistory(persistence.DefaultSnapshotKey, sessionID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

type streamingGateway struct {
	fakeGateway
	chunks []string
}

func (s *streamingGateway) Stream(_ context.Context, _ gateway.Request) (<-chan gateway.Chunk, error) {
	ch := make(chan gateway.Chunk)
	go func() {
		defer close(ch)
		for _, c := range s.chunks {
			ch <- gateway.Chunk{Content: c}
		}
		ch <- gateway.Chunk{Done: true}
	}()
	return ch, nil
}

func TestStreamedChunksAreDeliveredIncrementally(t *testing.T) {
	parts := []string{strategyJSON[:40], strategyJSON[40:]}
	fake := &streamingGateway{chunks: parts}

	var received []string
	engine, err := NewEngine(fake, "fake", testGenConfig(),
		WithChunkHandler(func(c string) { received = append(received, c) }))
	require.NoError(t, err)

	require.NoError(t, engine.SubmitObjective(context.Background(), "objective"))

	assert.Equal(t, proto.StateStrategyProposal, engine.Project().State)
	assert.Equal(t, parts, received, "each chunk reaches the handler as it arrives")
	assert.Equal(t, strategyJSON, strings.Join(received, ""))
}

func TestStartNewSessionPrunesPersistedHistory(t *testing.T) {
	store, err := persistence.Open(filepath.Join(t.TempDir(), "aegis.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	fake := &fakeGateway{}
	engine := newTestEngine(t, fake, WithStore(store))
	advanceToStrategyProposal(t, engine, fake)
	oldID := engine.Project().SessionID

	entries, err := store.ListHistory(persistence.DefaultSnapshotKey, oldID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	engine.StartNewSession()

	gone, err := store.ListHistory(persistence.DefaultSnapshotKey, oldID)
	require.NoError(t, err)
	assert.Empty(t, gone, "abandoned session rows are pruned on reset")

	// The fresh session accumulates its own rows as usual.
	fake.mu.Lock()
	fake.queue = append(fake.queue, fakeResult{text: strategyJSON})
	fake.mu.Unlock()
	require.NoError(t, engine.SubmitObjective(context.Background(), "another objective"))

	fresh, err := store.ListHistory(persistence.DefaultSnapshotKey, engine.Project().SessionID)
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
}

func TestProjectionIsACopy(t *testing.T) {
	fake := &fakeGateway{}
	engine := newTestEngine(t, fake)
	advanceToStrategyProposal(t, engine, fake)

	p := engine.Project()
	p.Strategy.Persona.Title = "mutated"

	assert.Equal(t, "The Seasoned Mentor", engine.Project().Strategy.Persona.Title)
}
