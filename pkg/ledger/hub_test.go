package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgebound/jobcore/pkg/models"
)

func TestSubscriberHub_PublishDeliversToSubscriber(t *testing.T) {
	hub := NewSubscriberHub()
	jobID := uuid.New()

	sub := hub.Subscribe(jobID)
	defer sub.Close()

	ev := models.Event{JobID: jobID, Kind: models.EventInfo, Summary: "step 1"}
	hub.Publish(ev)

	select {
	case got := <-sub.Events:
		assert.Equal(t, "step 1", got.Summary)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscriberHub_IsolatesByJob(t *testing.T) {
	hub := NewSubscriberHub()
	jobA, jobB := uuid.New(), uuid.New()

	subA := hub.Subscribe(jobA)
	defer subA.Close()
	subB := hub.Subscribe(jobB)
	defer subB.Close()

	hub.Publish(models.Event{JobID: jobA, Summary: "for A"})

	select {
	case got := <-subA.Events:
		assert.Equal(t, "for A", got.Summary)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on subA")
	}

	select {
	case <-subB.Events:
		t.Fatal("subscriber for job B should not receive job A's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriberHub_CloseStopsDelivery(t *testing.T) {
	hub := NewSubscriberHub()
	jobID := uuid.New()

	sub := hub.Subscribe(jobID)
	require.Equal(t, 1, hub.SubscriberCount(jobID))

	sub.Close()
	require.Equal(t, 0, hub.SubscriberCount(jobID))

	_, open := <-sub.Events
	assert.False(t, open, "Events channel should be closed after Close")
}

func TestSubscriberHub_OverflowSignalsWithoutBlocking(t *testing.T) {
	hub := NewSubscriberHub()
	jobID := uuid.New()

	sub := hub.Subscribe(jobID)
	defer sub.Close()

	// Flood well past the buffer so the hub has to start dropping.
	for i := 0; i < subscriberBufferSize*2; i++ {
		hub.Publish(models.Event{JobID: jobID, Summary: "flood"})
	}

	select {
	case <-sub.Overflow:
	default:
		t.Fatal("expected an overflow signal after flooding past the buffer")
	}
}

func TestSubscriberHub_OverflowIsTerminal(t *testing.T) {
	hub := NewSubscriberHub()
	jobID := uuid.New()

	sub := hub.Subscribe(jobID)
	defer sub.Close()

	for i := 0; i < subscriberBufferSize*2; i++ {
		hub.Publish(models.Event{JobID: jobID, Summary: "flood"})
	}

	require.Equal(t, 0, hub.SubscriberCount(jobID), "an overflowed subscriber must be unregistered")

	// Drain whatever made it into the buffer, then Events must close rather
	// than go silent: OVERFLOW is the subscriber's final item, never a gap
	// followed by more live events.
	for range sub.Events {
	}
}

func TestSubscriberHub_MultipleSubscribersSameJob(t *testing.T) {
	hub := NewSubscriberHub()
	jobID := uuid.New()

	sub1 := hub.Subscribe(jobID)
	defer sub1.Close()
	sub2 := hub.Subscribe(jobID)
	defer sub2.Close()

	hub.Publish(models.Event{JobID: jobID, Summary: "broadcast"})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case got := <-sub.Events:
			assert.Equal(t, "broadcast", got.Summary)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast event")
		}
	}
}
