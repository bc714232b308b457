package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		to    State
		valid bool
	}{
		{"objective starts generation", StateAwaitingObjective, StateGeneratingStrategy, true},
		{"generation settles to proposal", StateGeneratingStrategy, StateStrategyProposal, true},
		{"generation settles to error", StateGeneratingStrategy, StateError, true},
		{"proposal to pillar refinement", StateStrategyProposal, StateRefiningPillar, true},
		{"proposal to blueprint generation", StateStrategyProposal, StateGeneratingBlueprint, true},
		{"pillar refinement back to proposal", StateRefiningPillar, StateStrategyProposal, true},
		{"blueprint settles to proposal", StateGeneratingBlueprint, StateBlueprintProposal, true},
		{"blueprint proposal to refinement", StateBlueprintProposal, StateRefiningBlueprint, true},
		{"blueprint proposal to finalized", StateBlueprintProposal, StateFinalized, true},
		{"refinement back to blueprint proposal", StateRefiningBlueprint, StateBlueprintProposal, true},
		{"finalized loops to initial", StateFinalized, StateAwaitingObjective, true},
		{"error loops to initial", StateError, StateAwaitingObjective, true},

		{"no skipping strategy", StateAwaitingObjective, StateGeneratingBlueprint, false},
		{"no direct proposal", StateAwaitingObjective, StateStrategyProposal, false},
		{"strategy proposal cannot finalize", StateStrategyProposal, StateFinalized, false},
		{"blueprint proposal cannot go back to strategy", StateBlueprintProposal, StateStrategyProposal, false},
		{"finalized cannot re-finalize", StateFinalized, StateFinalized, false},
		{"unknown state has no transitions", State("BOGUS"), StateAwaitingObjective, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidTransition(tt.from, tt.to))
		})
	}
}

func TestIsLegalEvent(t *testing.T) {
	tests := []struct {
		state State
		event Event
		legal bool
	}{
		{StateAwaitingObjective, EventSubmitObjective, true},
		{StateAwaitingObjective, EventConfirmStrategy, false},
		{StateStrategyProposal, EventRequestPillarRefinement, true},
		{StateStrategyProposal, EventConfirmStrategy, true},
		{StateStrategyProposal, EventFinalizeBlueprint, false},
		{StateBlueprintProposal, EventRequestBlueprintRefinement, true},
		{StateBlueprintProposal, EventFinalizeBlueprint, true},
		{StateBlueprintProposal, EventConfirmStrategy, false},
		{StateFinalized, EventFinalizeBlueprint, false},
		{StateGeneratingStrategy, EventSubmitObjective, false},
		{StateRefiningBlueprint, EventRequestBlueprintRefinement, false},
	}

	for _, tt := range tests {
		got := IsLegalEvent(tt.state, tt.event)
		assert.Equal(t, tt.legal, got, "%s in %s", tt.event, tt.state)
	}
}

func TestStartNewSessionLegalEverywhere(t *testing.T) {
	for _, state := range AllStates() {
		assert.True(t, IsLegalEvent(state, EventStartNewSession),
			"StartNewSession should be accepted in %s", state)
	}
}

func TestTransientStates(t *testing.T) {
	transient := []State{
		StateGeneratingStrategy,
		StateRefiningPillar,
		StateGeneratingBlueprint,
		StateRefiningBlueprint,
	}
	settled := []State{
		StateAwaitingObjective,
		StateStrategyProposal,
		StateBlueprintProposal,
		StateFinalized,
		StateError,
	}

	for _, s := range transient {
		assert.True(t, IsTransient(s), "%s should be transient", s)
		assert.False(t, IsSettled(s), "%s should not be settled", s)
	}
	for _, s := range settled {
		assert.False(t, IsTransient(s), "%s should not be transient", s)
		assert.True(t, IsSettled(s), "%s should be settled", s)
	}

	assert.False(t, IsSettled(State("BOGUS")), "unknown state is never settled")
}

func TestEveryTransitionTargetIsKnown(t *testing.T) {
	for _, from := range AllStates() {
		for _, to := range ValidNextStates(from) {
			assert.True(t, IsValidState(to), "%s -> %s targets unknown state", from, to)
		}
	}
}

func TestParsePillarKey(t *testing.T) {
	for _, key := range PillarKeys() {
		parsed, err := ParsePillarKey(key.String())
		assert.NoError(t, err)
		assert.Equal(t, key, parsed)
	}

	_, err := ParsePillarKey("style")
	assert.Error(t, err)
	_, err = ParsePillarKey("")
	assert.Error(t, err)
}
