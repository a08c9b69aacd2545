// Package statemachine is the single authority for job status transitions.
// Status is otherwise just a bare enum string, and leaving each call site to
// decide whether its UPDATE is legal invites drift; every legal edge here is
// centralized as Go code instead, and anything else fails closed with
// errkind.Conflict. Transition decides which of started_at,
// last_heartbeat_at, claimant, finished_at, and cancel_requested_at a status
// change touches. The one exception is the Store's bulk RequeueStale sweep,
// which writes the requeue edge's effects directly in a single UPDATE.
package statemachine

import (
	"fmt"

	"github.com/forgebound/jobcore/pkg/errkind"
	"github.com/forgebound/jobcore/pkg/models"
)

// Event is one of the named edges in the job lifecycle diagram.
type Event string

// Supported events.
const (
	EventClaim         Event = "claim"
	EventComplete      Event = "complete"
	EventFail          Event = "fail"
	EventEscalate      Event = "escalate"
	EventRequeue       Event = "requeue"
	EventCancelRequest Event = "cancel_req"
	EventFinishCancel  Event = "finish_cancel"
	EventResume        Event = "resume"
)

type edge struct {
	from models.Status
	ev   Event
}

var transitions = map[edge]models.Status{
	{models.StatusQueued, EventClaim}:            models.StatusRunning,
	{models.StatusRunning, EventComplete}:         models.StatusSucceeded,
	{models.StatusRunning, EventFail}:             models.StatusFailed,
	{models.StatusRunning, EventEscalate}:         models.StatusWaitingHuman,
	{models.StatusRunning, EventRequeue}:          models.StatusQueued,
	{models.StatusRunning, EventCancelRequest}:    models.StatusCancelling,
	{models.StatusQueued, EventCancelRequest}:     models.StatusCancelling,
	{models.StatusCancelling, EventFinishCancel}:  models.StatusAborted,
	{models.StatusWaitingHuman, EventResume}:      models.StatusQueued,
}

// Effects describes which timestamp/ownership fields a transition touches.
// Store implementations apply exactly these effects and nothing else when
// committing a transition.
type Effects struct {
	NewStatus models.Status

	// SetStartedAtIfNull sets started_at to now, but only if it is still null
	// (a requeued-then-reclaimed job keeps its original started_at).
	SetStartedAtIfNull bool
	// SetClaimant and SetLastHeartbeatAt accompany a claim.
	SetClaimant        bool
	SetLastHeartbeatAt bool

	// ClearClaimant, ClearStartedAt, ClearLastHeartbeatAt accompany a requeue.
	ClearClaimant        bool
	ClearStartedAt       bool
	ClearLastHeartbeatAt bool

	// SetFinishedAt accompanies any transition into a terminal status.
	SetFinishedAt bool
	// SetCancelRequestedAt accompanies a cancel request.
	SetCancelRequestedAt bool
}

// Transition validates that ev is a legal edge out of current and returns the
// resulting status plus the timestamp/ownership effects to apply. A job
// already in a terminal status, or an edge not present in the diagram,
// fails with errkind.Conflict ("INVALID_TRANSITION" in spec terms).
func Transition(current models.Status, ev Event) (Effects, error) {
	if current.Terminal() {
		return Effects{}, errkind.New(errkind.Conflict, "statemachine.Transition",
			fmt.Sprintf("job in terminal status %q cannot transition via %q", current, ev))
	}

	next, ok := transitions[edge{current, ev}]
	if !ok {
		return Effects{}, errkind.New(errkind.Conflict, "statemachine.Transition",
			fmt.Sprintf("no legal transition %q from status %q", ev, current))
	}

	eff := Effects{NewStatus: next}

	switch ev {
	case EventClaim:
		eff.SetStartedAtIfNull = true
		eff.SetClaimant = true
		eff.SetLastHeartbeatAt = true
	case EventComplete, EventFail:
		eff.SetFinishedAt = true
		eff.ClearClaimant = true
		eff.ClearLastHeartbeatAt = true
	case EventFinishCancel:
		eff.SetFinishedAt = true
		eff.ClearClaimant = true
		eff.ClearLastHeartbeatAt = true
	case EventRequeue:
		eff.ClearClaimant = true
		eff.ClearStartedAt = true
		eff.ClearLastHeartbeatAt = true
	case EventCancelRequest:
		eff.SetCancelRequestedAt = true
	case EventEscalate:
		// waiting_human is non-terminal, but claimant/last_heartbeat_at are
		// only valid while running/cancelling — clear them on the way out.
		eff.ClearClaimant = true
		eff.ClearLastHeartbeatAt = true
	case EventResume:
		// claimant/last_heartbeat_at are already null in waiting_human; no
		// timestamp side effects beyond the status change itself.
	}

	return eff, nil
}

// CanClaim reports whether a row in status s is eligible for claim_one: only
// queued rows are. PostgresStore.ClaimOne does not call it; it checks the
// status itself and finishes a cancelling row found during the claim scan
// via finish_cancel instead of claiming it.
func CanClaim(s models.Status) bool {
	return s == models.StatusQueued
}
