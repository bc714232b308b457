// Package proto defines the canonical workflow protocol: states, events,
// pillar keys, and the single transition table all front-ends share.
package proto

// State represents a workflow state.
type State string

const (
	// StateAwaitingObjective - initial state, no objective submitted yet.
	StateAwaitingObjective State = "AWAITING_OBJECTIVE"
	// StateGeneratingStrategy - strategy call in flight (transient).
	StateGeneratingStrategy State = "GENERATING_STRATEGY"
	// StateStrategyProposal - four-pillar strategy shown, awaiting user choice.
	StateStrategyProposal State = "STRATEGY_PROPOSAL"
	// StateRefiningPillar - single-pillar regeneration in flight (transient).
	StateRefiningPillar State = "REFINING_PILLAR"
	// StateGeneratingBlueprint - blueprint call in flight (transient).
	StateGeneratingBlueprint State = "GENERATING_BLUEPRINT"
	// StateBlueprintProposal - blueprint shown, awaiting feedback or finalize.
	StateBlueprintProposal State = "BLUEPRINT_PROPOSAL"
	// StateRefiningBlueprint - blueprint refinement call in flight (transient).
	StateRefiningBlueprint State = "REFINING_BLUEPRINT"
	// StateFinalized - session complete; loops back via StartNewSession.
	StateFinalized State = "FINALIZED"
	// StateError - last operation failed; loops back via StartNewSession.
	StateError State = "ERROR"
)

func (s State) String() string {
	return string(s)
}

// Event represents a user action raised by the presentation layer.
type Event string

const (
	EventSubmitObjective            Event = "SUBMIT_OBJECTIVE"
	EventRequestPillarRefinement    Event = "REQUEST_PILLAR_REFINEMENT"
	EventConfirmStrategy            Event = "CONFIRM_STRATEGY"
	EventRequestBlueprintRefinement Event = "REQUEST_BLUEPRINT_REFINEMENT"
	EventFinalizeBlueprint          Event = "FINALIZE_BLUEPRINT"
	EventStartNewSession            Event = "START_NEW_SESSION"
)

func (e Event) String() string {
	return string(e)
}

// validTransitions defines allowed state transitions. Transient states settle
// to their proposal state on success or to ERROR on failure; settled states
// advance only through the events in legalEvents.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var validTransitions = map[State][]State{
	StateAwaitingObjective:   {StateGeneratingStrategy},
	StateGeneratingStrategy:  {StateStrategyProposal, StateError},
	StateStrategyProposal:    {StateRefiningPillar, StateGeneratingBlueprint},
	StateRefiningPillar:      {StateStrategyProposal, StateError},
	StateGeneratingBlueprint: {StateBlueprintProposal, StateError},
	StateBlueprintProposal:   {StateRefiningBlueprint, StateFinalized},
	StateRefiningBlueprint:   {StateBlueprintProposal, StateError},
	StateFinalized:           {StateAwaitingObjective},
	StateError:               {StateAwaitingObjective},
}

// legalEvents maps each state to the user events it accepts. An event not
// listed for the current state is rejected with no state change - this guards
// against stale UI callbacks firing after a state has already advanced.
// EventStartNewSession is accepted from every state (see IsLegalEvent): from a
// transient state it cancels the in-flight call instead of ignoring it.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var legalEvents = map[State][]Event{
	StateAwaitingObjective: {EventSubmitObjective},
	StateStrategyProposal:  {EventRequestPillarRefinement, EventConfirmStrategy},
	StateBlueprintProposal: {EventRequestBlueprintRefinement, EventFinalizeBlueprint},
	StateFinalized:         {EventStartNewSession},
	StateError:             {EventStartNewSession},
}

// transientStates are in-flight generation states. They are never persisted:
// a snapshot recorded in one of these cannot be resumed because there is no
// way to know whether the call is still outstanding after a restart.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var transientStates = map[State]bool{
	StateGeneratingStrategy:  true,
	StateRefiningPillar:      true,
	StateGeneratingBlueprint: true,
	StateRefiningBlueprint:   true,
}

// IsValidTransition checks if a state transition is allowed.
func IsValidTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsLegalEvent checks whether the given user event is accepted in the given
// state. StartNewSession is accepted everywhere so a hung in-flight call can
// be abandoned.
func IsLegalEvent(state State, event Event) bool {
	if event == EventStartNewSession {
		return true
	}
	for _, e := range legalEvents[state] {
		if e == event {
			return true
		}
	}
	return false
}

// IsTransient reports whether the state represents an in-flight generation call.
func IsTransient(state State) bool {
	return transientStates[state]
}

// IsSettled reports whether the state is safe to persist and restore.
func IsSettled(state State) bool {
	return IsValidState(state) && !transientStates[state]
}

// AllStates returns every workflow state.
func AllStates() []State {
	return []State{
		StateAwaitingObjective,
		StateGeneratingStrategy,
		StateStrategyProposal,
		StateRefiningPillar,
		StateGeneratingBlueprint,
		StateBlueprintProposal,
		StateRefiningBlueprint,
		StateFinalized,
		StateError,
	}
}

// AllEvents returns every user event.
func AllEvents() []Event {
	return []Event{
		EventSubmitObjective,
		EventRequestPillarRefinement,
		EventConfirmStrategy,
		EventRequestBlueprintRefinement,
		EventFinalizeBlueprint,
		EventStartNewSession,
	}
}

// IsValidState checks whether the string value names a known workflow state.
func IsValidState(state State) bool {
	for _, s := range AllStates() {
		if s == state {
			return true
		}
	}
	return false
}

// ValidNextStates returns the valid next states for a given state.
func ValidNextStates(from State) []State {
	return validTransitions[from]
}

// LegalEvents returns the user events accepted in the given state, not
// counting the always-accepted StartNewSession.
func LegalEvents(state State) []Event {
	return legalEvents[state]
}
