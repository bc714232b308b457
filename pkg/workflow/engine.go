// Package workflow implements the strategy-then-blueprint state machine. The
// Engine owns the session record and the current state; all mutation goes
// through its event methods, which validate legality against the protocol
// tables before doing anything.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"aegisprime/pkg/config"
	"aegisprime/pkg/eventlog"
	"aegisprime/pkg/gateway"
	"aegisprime/pkg/logx"
	"aegisprime/pkg/metrics"
	"aegisprime/pkg/persistence"
	"aegisprime/pkg/proto"
	"aegisprime/pkg/session"
	"aegisprime/pkg/templates"
	"aegisprime/pkg/utils"
)

// ErrIllegalEvent is returned when an event is raised in a state that does
// not accept it. The workflow is left unchanged.
var ErrIllegalEvent = errors.New("event not legal in current state")

// Engine drives one workflow run. Safe for concurrent use: a generation call
// runs without holding the engine lock, so StartNewSession can cancel it from
// another goroutine.
type Engine struct {
	gw       gateway.Gateway
	renderer *templates.Renderer
	store    *persistence.Store
	events   *eventlog.Writer
	counter  *utils.TokenCounter
	genCfg   config.GenerationConfig
	provider string
	logger   *logx.Logger

	// onChunk, when set, receives streamed response fragments as they
	// arrive. Providers without streaming fall back to a single delivery.
	onChunk func(string)

	mu          sync.Mutex
	state       proto.State
	sess        *session.State
	lastErr     string
	refining    proto.PillarKey // pillar under refinement, empty otherwise
	refinements int             // blueprint refinement rounds this session
	epoch       int             // bumped on reset so an abandoned call cannot settle

	cancelMu       sync.Mutex
	cancelInFlight context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore attaches snapshot and history persistence.
func WithStore(store *persistence.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithEventLog attaches a JSONL transcript writer.
func WithEventLog(w *eventlog.Writer) Option {
	return func(e *Engine) { e.events = w }
}

// WithChunkHandler registers a callback for streamed response fragments.
func WithChunkHandler(fn func(string)) Option {
	return func(e *Engine) { e.onChunk = fn }
}

// NewEngine creates an engine in the initial state with a fresh session.
func NewEngine(gw gateway.Gateway, provider string, genCfg config.GenerationConfig, opts ...Option) (*Engine, error) {
	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt renderer: %w", err)
	}
	counter, err := utils.NewTokenCounter(gw.ModelName())
	if err != nil {
		return nil, fmt.Errorf("failed to build token counter: %w", err)
	}

	e := &Engine{
		gw:       gw,
		renderer: renderer,
		counter:  counter,
		genCfg:   genCfg,
		provider: provider,
		logger:   logx.NewLogger("workflow"),
		state:    proto.StateAwaitingObjective,
		sess:     session.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Restore replaces the engine's state and session from a persisted snapshot.
// Only settled states are restorable; the persistence layer already coerces
// anything else to the initial state.
func (e *Engine) Restore(snap *persistence.Snapshot) error {
	if !proto.IsSettled(snap.State) {
		return fmt.Errorf("cannot restore non-settled state %s", snap.State)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = snap.State
	e.sess = snap.Session
	e.lastErr = ""
	e.refining = ""
	e.refinements = 0
	e.logger.Info("restored session %s in state %s", e.sess.ID, e.state)
	return nil
}

// Projection is a read-only view of the workflow for presentation layers.
type Projection struct {
	State            proto.State
	SessionID        string
	SessionName      string
	Objective        string
	Strategy         *session.Strategy
	Blueprint        *session.Blueprint
	Attachments      []session.Attachment
	URLContext       *session.URLContext
	LastError        string
	LegalEvents      []proto.Event
	RefiningPillar   proto.PillarKey
	RefinementRounds int
	// ConvergenceHint is advisory only: it suggests the refinement loop has
	// gone on long enough to consider finalizing. Nothing enforces it.
	ConvergenceHint bool
}

// convergenceAdvisoryRounds is the refinement count at which the projection
// starts hinting that the blueprint may have converged.
const convergenceAdvisoryRounds = 3

// Project returns a snapshot view of the current workflow.
func (e *Engine) Project() Projection {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := Projection{
		State:            e.state,
		SessionID:        e.sess.ID,
		SessionName:      e.sess.Name,
		Objective:        e.sess.Objective,
		LastError:        e.lastErr,
		LegalEvents:      proto.LegalEvents(e.state),
		RefiningPillar:   e.refining,
		RefinementRounds: e.refinements,
		ConvergenceHint:  e.refinements >= convergenceAdvisoryRounds,
	}
	if e.sess.Strategy != nil {
		s := *e.sess.Strategy
		p.Strategy = &s
	}
	if e.sess.Blueprint != nil {
		b := *e.sess.Blueprint
		b.Suggestions = append([]string(nil), e.sess.Blueprint.Suggestions...)
		b.Questions = append([]string(nil), e.sess.Blueprint.Questions...)
		p.Blueprint = &b
	}
	if e.sess.URLContext != nil {
		u := *e.sess.URLContext
		p.URLContext = &u
	}
	p.Attachments = append([]session.Attachment(nil), e.sess.Attachments...)
	return p
}

// History returns the session's generation history, oldest first.
func (e *Engine) History() []session.HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.HistorySnapshot()
}

// SetSessionName renames the session.
func (e *Engine) SetSessionName(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	name = strings.TrimSpace(name)
	if name == "" {
		name = session.DefaultName
	}
	e.sess.Name = name
	e.persistLocked()
}

// StartNewSession abandons the current run and resets to the initial state.
// Accepted from every state: raised during an in-flight generation it cancels
// the call, and the abandoned call's result is discarded when it returns.
func (e *Engine) StartNewSession() {
	e.cancelMu.Lock()
	if e.cancelInFlight != nil {
		e.cancelInFlight()
		e.cancelInFlight = nil
	}
	e.cancelMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.state
	metrics.RecordEvent(proto.EventStartNewSession.String(), true)
	e.logEvent(proto.EventStartNewSession, "")

	e.epoch++
	e.sess.Reset()
	e.lastErr = ""
	e.refining = ""
	e.refinements = 0
	e.setStateLocked(from, proto.StateAwaitingObjective)
	e.persistLocked()
	e.pruneHistoryLocked()
	e.logger.Info("started new session %s", e.sess.ID)
}

// pruneHistoryLocked drops persisted history rows from abandoned sessions,
// keeping the table from growing without bound across resets.
func (e *Engine) pruneHistoryLocked() {
	if e.store == nil {
		return
	}
	pruned, err := e.store.PruneHistory(persistence.DefaultSnapshotKey, e.sess.ID)
	if err != nil {
		e.logger.Warn("failed to prune history: %v", err)
		return
	}
	if pruned > 0 {
		e.logger.Debug("pruned %d history rows from prior sessions", pruned)
	}
}

// rejectEvent records and returns an illegal-event error without touching
// workflow state.
func (e *Engine) rejectEvent(event proto.Event) error {
	metrics.RecordEvent(event.String(), false)
	e.logger.Debug("rejected event %s in state %s", event, e.state)
	return fmt.Errorf("%w: %s in %s", ErrIllegalEvent, event, e.state)
}

// beginGeneration validates the event against the current state, applies the
// optional session mutation, and moves into the transient state. Returns the
// epoch the eventual settle must match.
func (e *Engine) beginGeneration(event proto.Event, to proto.State, mutate func(*session.State)) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !proto.IsLegalEvent(e.state, event) {
		return 0, e.rejectEvent(event)
	}
	if !proto.IsValidTransition(e.state, to) {
		return 0, e.rejectEvent(event)
	}

	metrics.RecordEvent(event.String(), true)
	e.logEvent(event, "")
	if mutate != nil {
		mutate(e.sess)
	}
	e.setStateLocked(e.state, to)
	return e.epoch, nil
}

// sessionView copies the request-relevant session fields under the lock.
func (e *Engine) sessionView() (objective string, strategy *session.Strategy, atts []session.Attachment, urlCtx *session.URLContext) {
	e.mu.Lock()
	defer e.mu.Unlock()
	objective = e.sess.Objective
	if e.sess.Strategy != nil {
		s := *e.sess.Strategy
		strategy = &s
	}
	atts = append([]session.Attachment(nil), e.sess.Attachments...)
	if e.sess.URLContext != nil {
		u := *e.sess.URLContext
		urlCtx = &u
	}
	return objective, strategy, atts, urlCtx
}

// settle applies a successful generation result and moves to the settled
// state. Returns false if the session was reset while the call was in flight;
// the result is discarded.
func (e *Engine) settle(epoch int, to proto.State, apply func(*session.State)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if epoch != e.epoch {
		e.logger.Debug("discarding stale generation result (session was reset)")
		return false
	}
	from := e.state
	apply(e.sess)
	e.lastErr = ""
	e.refining = ""
	e.setStateLocked(from, to)
	e.persistLocked()
	return true
}

// fail moves the workflow to the error state unless the session was reset
// while the call was in flight.
func (e *Engine) fail(epoch int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if epoch != e.epoch {
		e.logger.Debug("discarding stale generation failure (session was reset)")
		return
	}
	from := e.state
	e.lastErr = err.Error()
	e.refining = ""
	e.setStateLocked(from, proto.StateError)
	e.persistLocked()
	if e.events != nil {
		_ = e.events.Error(e.sess.ID, err.Error())
	}
	e.logger.Warn("generation failed, entering error state: %v", err)
}

func (e *Engine) setStateLocked(from, to proto.State) {
	if from == to {
		return
	}
	e.state = to
	metrics.RecordTransition(from.String(), to.String())
	e.logger.DebugState("transition", to.String(), "from", from.String())
	if e.events != nil {
		_ = e.events.Transition(e.sess.ID, from, to)
	}
}

func (e *Engine) persistLocked() {
	if e.store == nil {
		return
	}
	if !proto.IsSettled(e.state) {
		return
	}
	if err := e.store.SaveSnapshot(persistence.DefaultSnapshotKey, e.state, e.sess); err != nil {
		e.logger.Warn("failed to persist snapshot: %v", err)
	}
}

func (e *Engine) recordHistoryLocked(kind session.HistoryKind, prompt, response, strategyContext string) {
	entry := e.sess.AppendHistory(kind, prompt, response, strategyContext)
	if e.store != nil {
		if err := e.store.AppendHistory(persistence.DefaultSnapshotKey, e.sess.ID, entry); err != nil {
			e.logger.Warn("failed to persist history entry: %v", err)
		}
	}
}

func (e *Engine) logEvent(event proto.Event, detail string) {
	if e.events != nil {
		_ = e.events.UserEvent(e.sess.ID, event, detail)
	}
}

// generate runs one gateway call under the configured deadline, with token
// budget enforcement, metrics, and cancellation registration.
func (e *Engine) generate(ctx context.Context, kind session.HistoryKind, req gateway.Request) (string, error) {
	tokens := e.requestTokens(req)
	metrics.RecordRequestTokens(string(kind), tokens)
	if tokens > e.genCfg.TokenBudget {
		return "", gateway.NewError(gateway.ErrorTypeBadRequest,
			"assembled request is %d tokens, over the %d token budget", tokens, e.genCfg.TokenBudget)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.genCfg.Timeout())
	defer cancel()
	e.registerCancel(cancel)
	defer e.unregisterCancel()

	start := time.Now()
	text, err := e.completeOrStream(callCtx, req)
	elapsed := time.Since(start)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.RecordGeneration(string(kind), e.provider, outcome, elapsed)
	if err == nil && e.events != nil {
		_ = e.events.Generation(e.sess.ID, string(kind),
			fmt.Sprintf("model=%s tokens=%d elapsed=%s", e.gw.ModelName(), tokens, elapsed.Round(time.Millisecond)))
	}
	return text, err
}

func (e *Engine) completeOrStream(ctx context.Context, req gateway.Request) (string, error) {
	if e.onChunk == nil {
		return e.gw.Complete(ctx, req)
	}

	ch, err := e.gw.Stream(ctx, req)
	if errors.Is(err, gateway.ErrStreamingUnsupported) {
		return e.gw.Complete(ctx, req)
	}
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		if chunk.Content != "" {
			text.WriteString(chunk.Content)
			e.onChunk(chunk.Content)
		}
	}
	return text.String(), nil
}

func (e *Engine) requestTokens(req gateway.Request) int {
	var text strings.Builder
	text.WriteString(req.Instructions)
	for _, p := range req.Parts {
		if !p.IsBinary() {
			text.WriteString(p.Text)
		}
	}
	return e.counter.CountTokens(text.String())
}

func (e *Engine) registerCancel(cancel context.CancelFunc) {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	e.cancelInFlight = cancel
}

func (e *Engine) unregisterCancel() {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	e.cancelInFlight = nil
}
