package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/forgebound/jobcore/test/database"

	"github.com/forgebound/jobcore/pkg/ledger"
	"github.com/forgebound/jobcore/pkg/models"
	"github.com/forgebound/jobcore/pkg/store"
)

func insertLedgerTestJob(t *testing.T, s store.Store) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := s.InsertJob(context.Background(), store.InsertJobParams{
		ID:        id,
		Goal:      "investigate the alert",
		Mode:      models.ModeMechanic,
		AgentType: "default",
		RepoPath:  "/repos/example",
		Caps:      models.Caps{StepCap: 20, TokenCap: 100000, CostCapCents: 500},
	})
	require.NoError(t, err)
	return id
}

// TestLedger_AppendDeliversToLocalSubscriber confirms the fast path: a
// subscriber registered before Append sees the event without needing NOTIFY.
func TestLedger_AppendDeliversToLocalSubscriber(t *testing.T) {
	client := testdb.NewTestClient(t)
	s := store.NewPostgresStore(client.Pool)
	hub := ledger.NewSubscriberHub()
	l := ledger.NewLedger(s, client.Pool, hub)

	jobID := insertLedgerTestJob(t, s)
	sub := l.Subscribe(jobID)
	defer sub.Close()

	_, err := l.Append(context.Background(), models.Event{
		JobID:   jobID,
		Kind:    models.EventToolCall,
		Summary: "ran grep",
	})
	require.NoError(t, err)

	select {
	case ev := <-sub.Events:
		assert.Equal(t, "ran grep", ev.Summary)
		assert.Equal(t, int64(1), ev.Sequence)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for locally published event")
	}
}

// TestLedger_NotifyListenerRepublishesAcrossConnections simulates a second
// process: its own SubscriberHub only learns about the append via NOTIFY,
// not via the first process's in-memory hub.
func TestLedger_NotifyListenerRepublishesAcrossConnections(t *testing.T) {
	client := testdb.NewTestClient(t)
	s := store.NewPostgresStore(client.Pool)

	producerHub := ledger.NewSubscriberHub()
	producer := ledger.NewLedger(s, client.Pool, producerHub)

	consumerHub := ledger.NewSubscriberHub()
	connString := client.Pool.Config().ConnConfig.ConnString()
	listener := ledger.NewNotifyListener(connString, s, consumerHub)
	require.NoError(t, listener.Start(context.Background()))
	defer listener.Stop(context.Background())

	jobID := insertLedgerTestJob(t, s)
	require.NoError(t, listener.Subscribe(context.Background(), ledger.JobChannel(jobID)))

	sub := consumerHub.Subscribe(jobID)
	defer sub.Close()

	_, err := producer.Append(context.Background(), models.Event{
		JobID:   jobID,
		Kind:    models.EventDecision,
		Summary: "chose to escalate",
	})
	require.NoError(t, err)

	select {
	case ev := <-sub.Events:
		assert.Equal(t, "chose to escalate", ev.Summary)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cross-connection NOTIFY delivery")
	}
}

// TestLedger_Replay confirms a late subscriber can recover events appended
// before it connected.
func TestLedger_Replay(t *testing.T) {
	client := testdb.NewTestClient(t)
	s := store.NewPostgresStore(client.Pool)
	l := ledger.NewLedger(s, client.Pool, ledger.NewSubscriberHub())

	jobID := insertLedgerTestJob(t, s)
	for i := 0; i < 3; i++ {
		_, err := l.Append(context.Background(), models.Event{JobID: jobID, Kind: models.EventInfo, Summary: "step"})
		require.NoError(t, err)
	}

	events, err := l.Replay(context.Background(), jobID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	events, err = l.Replay(context.Background(), jobID, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(3), events[0].Sequence)
}
