package statemachine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgebound/jobcore/pkg/errkind"
	"github.com/forgebound/jobcore/pkg/models"
	"github.com/forgebound/jobcore/pkg/statemachine"
)

func TestTransition_LegalEdges(t *testing.T) {
	cases := []struct {
		from models.Status
		ev   statemachine.Event
		want models.Status
	}{
		{models.StatusQueued, statemachine.EventClaim, models.StatusRunning},
		{models.StatusRunning, statemachine.EventComplete, models.StatusSucceeded},
		{models.StatusRunning, statemachine.EventFail, models.StatusFailed},
		{models.StatusRunning, statemachine.EventEscalate, models.StatusWaitingHuman},
		{models.StatusRunning, statemachine.EventRequeue, models.StatusQueued},
		{models.StatusRunning, statemachine.EventCancelRequest, models.StatusCancelling},
		{models.StatusQueued, statemachine.EventCancelRequest, models.StatusCancelling},
		{models.StatusCancelling, statemachine.EventFinishCancel, models.StatusAborted},
		{models.StatusWaitingHuman, statemachine.EventResume, models.StatusQueued},
	}

	for _, tc := range cases {
		eff, err := statemachine.Transition(tc.from, tc.ev)
		require.NoError(t, err, "%s -%s-> should be legal", tc.from, tc.ev)
		assert.Equal(t, tc.want, eff.NewStatus)
	}
}

func TestTransition_RejectsFromTerminal(t *testing.T) {
	for _, s := range []models.Status{models.StatusSucceeded, models.StatusFailed, models.StatusAborted} {
		_, err := statemachine.Transition(s, statemachine.EventClaim)
		require.Error(t, err)
		assert.True(t, errkind.Is(err, errkind.Conflict))
	}
}

func TestTransition_RejectsUnknownEdge(t *testing.T) {
	_, err := statemachine.Transition(models.StatusQueued, statemachine.EventEscalate)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Conflict))
}

func TestTransition_ClaimEffects(t *testing.T) {
	eff, err := statemachine.Transition(models.StatusQueued, statemachine.EventClaim)
	require.NoError(t, err)
	assert.True(t, eff.SetStartedAtIfNull)
	assert.True(t, eff.SetClaimant)
	assert.True(t, eff.SetLastHeartbeatAt)
}

func TestTransition_RequeueEffectsPreserveBudget(t *testing.T) {
	eff, err := statemachine.Transition(models.StatusRunning, statemachine.EventRequeue)
	require.NoError(t, err)
	assert.True(t, eff.ClearClaimant)
	assert.True(t, eff.ClearStartedAt)
	assert.True(t, eff.ClearLastHeartbeatAt)
	assert.False(t, eff.SetFinishedAt)
}

func TestTransition_TerminalSetsFinishedAt(t *testing.T) {
	eff, err := statemachine.Transition(models.StatusRunning, statemachine.EventComplete)
	require.NoError(t, err)
	assert.True(t, eff.SetFinishedAt)

	eff, err = statemachine.Transition(models.StatusCancelling, statemachine.EventFinishCancel)
	require.NoError(t, err)
	assert.True(t, eff.SetFinishedAt)
}

func TestTransition_ClaimOwnershipClearedOffRunningAndCancelling(t *testing.T) {
	cases := []struct {
		from models.Status
		ev   statemachine.Event
	}{
		{models.StatusRunning, statemachine.EventComplete},
		{models.StatusRunning, statemachine.EventFail},
		{models.StatusRunning, statemachine.EventEscalate},
		{models.StatusCancelling, statemachine.EventFinishCancel},
	}
	for _, tc := range cases {
		eff, err := statemachine.Transition(tc.from, tc.ev)
		require.NoError(t, err, "%s -%s->", tc.from, tc.ev)
		assert.True(t, eff.ClearClaimant, "%s -%s-> should clear claimant", tc.from, tc.ev)
		assert.True(t, eff.ClearLastHeartbeatAt, "%s -%s-> should clear last_heartbeat_at", tc.from, tc.ev)
	}
}

func TestCanClaim(t *testing.T) {
	assert.True(t, statemachine.CanClaim(models.StatusQueued))
	assert.False(t, statemachine.CanClaim(models.StatusCancelling))
	assert.False(t, statemachine.CanClaim(models.StatusRunning))
}
