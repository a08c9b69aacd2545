// Package ledger is the append-only event record every job writes its
// progress to, fanned out to local subscribers directly and to other
// processes via PostgreSQL NOTIFY — generalizing a prior
// pkg/events persistAndNotify/ConnectionManager pair away from WebSocket
// sessions and into a transport-agnostic per-job event stream.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgebound/jobcore/pkg/models"
	"github.com/forgebound/jobcore/pkg/store"
)

// notifyPayload is the small, routing-only body sent over pg_notify.
// Subscribers fetch the full event via Replay — NOTIFY only tells them
// something changed and where to look.
type notifyPayload struct {
	JobID    uuid.UUID `json:"job_id"`
	Sequence int64     `json:"sequence"`
}

// JobChannel is the NOTIFY channel name for a job's events.
func JobChannel(jobID uuid.UUID) string {
	return "job_events_" + jobID.String()
}

// Ledger appends events through the Store — the only component allowed to
// write the events table — and fans each append out to local subscribers
// immediately, then to other processes via NOTIFY.
type Ledger struct {
	store store.Store
	pool  *pgxpool.Pool
	hub   *SubscriberHub
}

// NewLedger wires a Store, the runtime pool (for pg_notify), and a
// SubscriberHub into one append path.
func NewLedger(st store.Store, pool *pgxpool.Pool, hub *SubscriberHub) *Ledger {
	return &Ledger{store: st, pool: pool, hub: hub}
}

// Append persists ev via the Store and notifies subscribers. The append and
// the NOTIFY are deliberately not in the same transaction: Store.AppendEvent
// owns the insert and its own commit, so a crash between the two can only
// delay cross-process delivery, never duplicate or lose the event — a
// subscriber that missed the NOTIFY still catches up via Replay.
func (l *Ledger) Append(ctx context.Context, ev models.Event) (models.Event, error) {
	appended, err := l.store.AppendEvent(ctx, ev)
	if err != nil {
		return models.Event{}, err
	}

	l.hub.Publish(appended)

	payload, err := json.Marshal(notifyPayload{JobID: appended.JobID, Sequence: appended.Sequence})
	if err != nil {
		return appended, fmt.Errorf("marshaling notify payload: %w", err)
	}
	if _, err := l.pool.Exec(ctx, "SELECT pg_notify($1, $2)", JobChannel(appended.JobID), payload); err != nil {
		slog.Warn("pg_notify failed", "job_id", appended.JobID, "error", err)
	}

	return appended, nil
}

// Replay returns every event for jobID with sequence > sinceSequence,
// letting a subscriber that (re)connects mid-job catch up on what it missed
// before switching over to live Subscribe delivery.
func (l *Ledger) Replay(ctx context.Context, jobID uuid.UUID, sinceSequence int64) ([]models.Event, error) {
	return l.store.ListEvents(ctx, jobID, sinceSequence)
}

// Subscribe registers a local subscriber for jobID's events. The caller is
// responsible for calling Subscription.Close when done.
func (l *Ledger) Subscribe(jobID uuid.UUID) *Subscription {
	return l.hub.Subscribe(jobID)
}

// PublishJobStatus implements queue.EventPublisher: a status change is
// recorded as an info-kind ledger event so subscribers see it in the same
// stream as everything else the job does.
func (l *Ledger) PublishJobStatus(ctx context.Context, jobID uuid.UUID, status models.Status) error {
	_, err := l.Append(ctx, models.Event{
		JobID:   jobID,
		Kind:    models.EventInfo,
		Summary: fmt.Sprintf("status changed to %s", status),
	})
	return err
}
