// Package models holds the shared domain types for the application pipeline.
package models

import (
	"fmt"
	"time"
)

// Stage is the position of an application inside the workflow state machine.
type Stage string

const (
	StageDiscovered          Stage = "discovered"
	StageFiltered            Stage = "filtered"
	StageSubmitting          Stage = "submitting"
	StagePendingVerification Stage = "pending_verification"
	StageVerified            Stage = "verified"
	StageRecorded            Stage = "recorded"
	StageSkipped             Stage = "skipped"
	StageFailed              Stage = "failed"
)

// stagePredecessors maps each stage to the stages it may be entered from.
// Submitting lists itself so a retry can bump the retry counter in place.
var stagePredecessors = map[Stage][]Stage{
	StageFiltered:            {StageDiscovered},
	StageSubmitting:          {StageFiltered, StageSubmitting},
	StagePendingVerification: {StageSubmitting},
	StageVerified:            {StagePendingVerification},
	StageRecorded:            {StageSubmitting, StageVerified},
	StageSkipped:             {StageDiscovered, StageFiltered},
	StageFailed: {
		StageDiscovered, StageFiltered, StageSubmitting,
		StagePendingVerification, StageVerified,
	},
}

// Terminal reports whether no further transition may leave this stage.
func (s Stage) Terminal() bool {
	return s == StageRecorded || s == StageSkipped || s == StageFailed
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	if s == StageDiscovered {
		return true
	}
	_, ok := stagePredecessors[s]
	return ok
}

// Predecessors returns the stages from which target may be entered.
func Predecessors(target Stage) []Stage {
	return stagePredecessors[target]
}

// CanTransition reports whether moving from one stage to another is a legal
// step of the state machine.
func CanTransition(from, to Stage) bool {
	for _, p := range stagePredecessors[to] {
		if p == from {
			return true
		}
	}
	return false
}

// Outcome is the terminal result recorded for an application.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeSimulated Outcome = "simulated"
)

// ApplicationKey identifies one posting on one platform. It is the dedup key:
// a posting is never submitted to twice for the same key.
type ApplicationKey struct {
	Platform  string `json:"platform"`
	PostingID string `json:"postingId"`
}

func (k ApplicationKey) String() string {
	return fmt.Sprintf("%s/%s", k.Platform, k.PostingID)
}

// ApplicationRecord is the durable state of one application, owned by the
// state ledger. Exactly one record exists per key.
type ApplicationRecord struct {
	Key            ApplicationKey    `json:"key"`
	Stage          Stage             `json:"stage"`
	Outcome        Outcome           `json:"outcome,omitempty"`
	FailureReason  string            `json:"failureReason,omitempty"`
	Retries        int               `json:"retries"`
	Simulated      bool              `json:"simulated"`
	VerifyDeadline *time.Time        `json:"verifyDeadline,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Patch carries the optional field updates applied together with a stage
// transition. Zero values leave the stored field untouched; Metadata entries
// are merged into the stored map.
type Patch struct {
	Outcome        Outcome
	FailureReason  string
	RetriesDelta   int
	Simulated      bool
	VerifyDeadline *time.Time
	Metadata       map[string]string
}
