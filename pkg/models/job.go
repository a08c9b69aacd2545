// Package models defines the persisted shapes jobcore operates on: Job,
// Event, and Conversation, plus the closed status/kind enums that gate
// every transition. Field names mirror prior ent schema fields
// (AlertSession's status/error_message/timestamps) without depending on
// ent's generated client.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects the worker pool allowed to claim a job and its default caps.
type Mode string

// Supported modes.
const (
	ModeMechanic Mode = "mechanic"
	ModeGenius   Mode = "genius"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeMechanic, ModeGenius:
		return true
	default:
		return false
	}
}

// Status is the closed set of job lifecycle states. See statemachine.Transition
// for the legal moves between them; every move except the Store's bulk
// RequeueStale sweep goes through it.
type Status string

// Supported statuses.
const (
	StatusQueued        Status = "queued"
	StatusRunning       Status = "running"
	StatusCancelling    Status = "cancelling"
	StatusWaitingHuman  Status = "waiting_human"
	StatusSucceeded     Status = "succeeded"
	StatusFailed        Status = "failed"
	StatusAborted       Status = "aborted"
)

// Terminal statuses. A job never leaves one of these once entered.
var terminalStatuses = map[Status]bool{
	StatusSucceeded: true,
	StatusFailed:    true,
	StatusAborted:   true,
}

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return terminalStatuses[s]
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCancelling, StatusWaitingHuman,
		StatusSucceeded, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// Caps are the hard upper bounds a job's budget must never exceed.
type Caps struct {
	StepCap      int
	TokenCap     int
	CostCapCents int
}

// Used are the monotone non-decreasing counters tracking a job's spend.
type Used struct {
	StepsUsed     int
	TokensUsed    int
	CostUsedCents int
}

// Job is the unit of work the queue claims, the agent loop executes, and the
// ledger records events against.
type Job struct {
	ID             uuid.UUID
	Goal           string
	Mode           Mode
	AgentType      string
	Status         Status
	RepoPath       string
	ConversationID *uuid.UUID
	ParentJobID    *uuid.UUID

	Caps Caps
	Used Used

	Claimant *string

	CreatedAt         time.Time
	StartedAt         *time.Time
	LastHeartbeatAt   *time.Time
	CancelRequestedAt *time.Time
	FinishedAt        *time.Time

	CurrentAction string

	// LastError carries the failure reason recorded when the job moved to
	// failed, surfaced without re-reading the ledger.
	LastError string
	// EscalationReason is set when a job enters waiting_human.
	EscalationReason string
}

// JobFields is a partial update to a Job; nil pointers mean "leave unchanged".
// Used by Store.UpdateJobFields so callers only name what they're changing.
type JobFields struct {
	CurrentAction    *string
	LastError        *string
	EscalationReason *string
}
