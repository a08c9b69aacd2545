// Package jobservice is the thin facade implementing the producer/consumer
// interface: the one surface external collaborators (a transport, a CLI, a
// test) use to create jobs, request cancellation, resume an escalated job,
// and read back jobs and events. Shaped as small structs wrapping a
// client/store and exposing one method per operation — generalized from
// per-entity CRUD services to six job-lifecycle operations.
package jobservice

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/forgebound/jobcore/pkg/config"
	"github.com/forgebound/jobcore/pkg/errkind"
	"github.com/forgebound/jobcore/pkg/ledger"
	"github.com/forgebound/jobcore/pkg/models"
	"github.com/forgebound/jobcore/pkg/store"
)

// CreateJobParams are the producer-supplied fields for a new job. Caps is
// optional; when zero-valued, the mode's configured defaults are used.
type CreateJobParams struct {
	Goal           string
	Mode           models.Mode
	AgentType      string
	RepoPath       string
	ConversationID *uuid.UUID
	ParentJobID    *uuid.UUID
	Caps           *models.Caps
}

// Service is the producer/consumer facade over Store and Ledger.
type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	modes  map[models.Mode]*config.ModeConfig
}

// New wires a Service. modes supplies the default caps applied when a
// CreateJobParams caller doesn't specify its own (config.Config.Modes,
// keyed by the config package's own Mode type — converted at the edge so
// this package only ever deals in models.Mode).
func New(st store.Store, lg *ledger.Ledger, modes map[models.Mode]*config.ModeConfig) *Service {
	return &Service{store: st, ledger: lg, modes: modes}
}

// CreateJob implements the producer interface's create_job. It assigns a new
// job id, resolves default caps for the mode if the caller didn't supply
// any, ensures the conversation row exists (the store's foreign key
// otherwise rejects the insert), and inserts the job in `queued`.
func (s *Service) CreateJob(ctx context.Context, p CreateJobParams) (uuid.UUID, error) {
	if !p.Mode.Valid() {
		return uuid.Nil, errkind.New(errkind.Validation, "jobservice.CreateJob", fmt.Sprintf("unknown mode %q", p.Mode))
	}

	caps := p.Caps
	if caps == nil {
		modeCfg, ok := s.modes[p.Mode]
		if !ok {
			return uuid.Nil, errkind.New(errkind.Validation, "jobservice.CreateJob", fmt.Sprintf("no default caps configured for mode %q", p.Mode))
		}
		caps = &models.Caps{StepCap: modeCfg.StepCap, TokenCap: modeCfg.TokenCap, CostCapCents: modeCfg.CostCapCents}
	}

	if p.ConversationID != nil {
		if err := s.store.EnsureConversation(ctx, *p.ConversationID); err != nil {
			return uuid.Nil, err
		}
	}

	id := uuid.New()
	job, err := s.store.InsertJob(ctx, store.InsertJobParams{
		ID:             id,
		Goal:           p.Goal,
		Mode:           p.Mode,
		AgentType:      p.AgentType,
		RepoPath:       p.RepoPath,
		ConversationID: p.ConversationID,
		ParentJobID:    p.ParentJobID,
		Caps:           *caps,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return job.ID, nil
}

// RequestCancel implements the producer interface's request_cancel.
func (s *Service) RequestCancel(ctx context.Context, jobID uuid.UUID) error {
	return s.store.RequestCancel(ctx, jobID)
}

// ResumeFromWaitingHuman implements the producer interface's
// resume_from_waiting_human: waiting_human → queued, preserving budget.
func (s *Service) ResumeFromWaitingHuman(ctx context.Context, jobID uuid.UUID) error {
	return s.store.Resume(ctx, jobID)
}

// GetJob implements the consumer interface's get_job.
func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// ListEvents implements the consumer interface's list_events. The returned
// cursor is the sequence number of the last event returned, or sinceCursor
// unchanged if none — pass
// it back as sinceCursor on the next call to page forward.
func (s *Service) ListEvents(ctx context.Context, jobID uuid.UUID, sinceCursor int64) ([]models.Event, int64, error) {
	events, err := s.store.ListEvents(ctx, jobID, sinceCursor)
	if err != nil {
		return nil, sinceCursor, err
	}
	next := sinceCursor
	if len(events) > 0 {
		next = events[len(events)-1].Sequence
	}
	return events, next, nil
}

// SubscribeEvents implements the consumer interface's subscribe_events,
// returning a live subscription plus a backfill of everything already
// persisted since sinceCursor. The subscription is opened before the
// backfill query runs, so the two may overlap at the boundary — the caller
// sees no gap, only a possible duplicate of the last few events, and should
// drop any live event whose Sequence is ≤ the last backfilled Sequence
// no gap relative to the moment of subscription demands no gap, not no
// overlap.
func (s *Service) SubscribeEvents(ctx context.Context, jobID uuid.UUID, sinceCursor int64) ([]models.Event, *ledger.Subscription, error) {
	sub := s.ledger.Subscribe(jobID)
	backfill, err := s.store.ListEvents(ctx, jobID, sinceCursor)
	if err != nil {
		sub.Close()
		return nil, nil, err
	}
	return backfill, sub, nil
}
