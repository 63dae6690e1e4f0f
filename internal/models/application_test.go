// internal/models/application_test.go
package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Stage
		to      Stage
		allowed bool
	}{
		{"discovered to filtered", StageDiscovered, StageFiltered, true},
		{"filtered to submitting", StageFiltered, StageSubmitting, true},
		{"submitting retry bump", StageSubmitting, StageSubmitting, true},
		{"submitting to pending verification", StageSubmitting, StagePendingVerification, true},
		{"pending verification to verified", StagePendingVerification, StageVerified, true},
		{"verified to recorded", StageVerified, StageRecorded, true},
		{"submitting straight to recorded", StageSubmitting, StageRecorded, true},
		{"discovered to skipped", StageDiscovered, StageSkipped, true},
		{"filtered to skipped", StageFiltered, StageSkipped, true},
		{"discovered skips filtering", StageDiscovered, StageSubmitting, false},
		{"filtered to pending verification", StageFiltered, StagePendingVerification, false},
		{"submitting to verified", StageSubmitting, StageVerified, false},
		{"submitting to skipped", StageSubmitting, StageSkipped, false},
		{"no transition out of recorded", StageRecorded, StageFailed, false},
		{"no transition out of skipped", StageSkipped, StageFailed, false},
		{"no transition out of failed", StageFailed, StageSubmitting, false},
		{"no backwards move", StageVerified, StageSubmitting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestFailedReachableFromEveryNonTerminalStage(t *testing.T) {
	nonTerminal := []Stage{
		StageDiscovered, StageFiltered, StageSubmitting,
		StagePendingVerification, StageVerified,
	}
	for _, from := range nonTerminal {
		assert.True(t, CanTransition(from, StageFailed), "from %s", from)
	}
	for _, from := range []Stage{StageRecorded, StageSkipped, StageFailed} {
		assert.False(t, CanTransition(from, StageFailed), "from %s", from)
	}
}

func TestStageTerminal(t *testing.T) {
	assert.True(t, StageRecorded.Terminal())
	assert.True(t, StageSkipped.Terminal())
	assert.True(t, StageFailed.Terminal())
	assert.False(t, StageDiscovered.Terminal())
	assert.False(t, StageSubmitting.Terminal())
	assert.False(t, StagePendingVerification.Terminal())
}

func TestStageValid(t *testing.T) {
	for _, s := range []Stage{
		StageDiscovered, StageFiltered, StageSubmitting,
		StagePendingVerification, StageVerified,
		StageRecorded, StageSkipped, StageFailed,
	} {
		assert.True(t, s.Valid(), "stage %s", s)
	}
	assert.False(t, Stage("queued").Valid())
	assert.False(t, Stage("").Valid())
}

func TestPredecessors(t *testing.T) {
	assert.ElementsMatch(t, []Stage{StageFiltered, StageSubmitting}, Predecessors(StageSubmitting))
	assert.Empty(t, Predecessors(StageDiscovered))
}

func TestApplicationKeyString(t *testing.T) {
	key := ApplicationKey{Platform: "greenhouse", PostingID: "4417"}
	assert.Equal(t, "greenhouse/4417", key.String())
}

func TestRunSummaryAdd(t *testing.T) {
	s := &RunSummary{}

	s.Add("greenhouse", OutcomeApplied)
	s.Add("greenhouse", OutcomeSimulated)
	s.Add("greenhouse", OutcomeSkipped)
	s.Add("lever", OutcomeFailed)

	assert.Equal(t, 2, s.Applied)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 2, s.Platform("greenhouse").Applied)
	assert.Equal(t, 1, s.Platform("greenhouse").Skipped)
	assert.Equal(t, 1, s.Platform("lever").Failed)
	assert.Equal(t, 0, s.Platform("lever").Applied)
}
