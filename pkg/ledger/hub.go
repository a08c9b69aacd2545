package ledger

import (
	"sync"

	"github.com/google/uuid"

	"github.com/forgebound/jobcore/pkg/models"
)

// subscriberBufferSize bounds each subscriber's channel. A consumer that
// falls this far behind is signalled via Overflow instead of blocking the
// publisher or every other subscriber of the same job.
const subscriberBufferSize = 64

type subscriber struct {
	id       uint64
	events   chan models.Event
	overflow chan struct{}
}

// Subscription delivers one job's events to a single consumer. Events is
// closed when the subscription is closed, or when the subscriber falls
// behind: Overflow fires (non-blocking, capacity 1) and the hub
// unsubscribes it on the spot, closing Events as its final item. Either way
// a closed Events means the consumer should re-fetch via Replay rather than
// assume the stream is merely paused.
type Subscription struct {
	Events   <-chan models.Event
	Overflow <-chan struct{}

	jobID uuid.UUID
	id    uint64
	hub   *SubscriberHub
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.jobID, s.id)
}

// SubscriberHub fans out ledger events to local in-process subscribers — the
// same fan-out role a WebSocket connection manager plays for its clients,
// generalized away from any one transport. Events reach it from this
// process's Ledger.Append and, for events appended elsewhere, from a
// NotifyListener republishing PostgreSQL NOTIFYs.
type SubscriberHub struct {
	mu     sync.Mutex
	nextID uint64
	byJob  map[uuid.UUID]map[uint64]*subscriber
}

// NewSubscriberHub creates an empty hub.
func NewSubscriberHub() *SubscriberHub {
	return &SubscriberHub{byJob: make(map[uuid.UUID]map[uint64]*subscriber)}
}

// Subscribe registers a new subscriber for a job's events.
func (h *SubscriberHub) Subscribe(jobID uuid.UUID) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID

	sub := &subscriber{
		id:       id,
		events:   make(chan models.Event, subscriberBufferSize),
		overflow: make(chan struct{}, 1),
	}

	if h.byJob[jobID] == nil {
		h.byJob[jobID] = make(map[uint64]*subscriber)
	}
	h.byJob[jobID][id] = sub

	return &Subscription{
		Events:   sub.events,
		Overflow: sub.overflow,
		jobID:    jobID,
		id:       id,
		hub:      h,
	}
}

func (h *SubscriberHub) unsubscribe(jobID uuid.UUID, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.byJob[jobID]
	if subs == nil {
		return
	}
	if sub, ok := subs[id]; ok {
		close(sub.events)
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(h.byJob, jobID)
	}
}

// Publish delivers ev to every live subscriber of its job. A subscriber whose
// buffer is full is dropped rather than kept around half-fed: OVERFLOW is
// terminal, so the consumer's next read is guaranteed to be either a
// gap-free event or the overflow signal, never silence followed by a gap.
func (h *SubscriberHub) Publish(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.byJob[ev.JobID]
	for id, sub := range subs {
		select {
		case sub.events <- ev:
		default:
			select {
			case sub.overflow <- struct{}{}:
			default:
			}
			close(sub.events)
			delete(subs, id)
		}
	}
	if len(subs) == 0 {
		delete(h.byJob, ev.JobID)
	}
}

// SubscriberCount reports how many live subscribers exist for jobID, mostly
// useful for tests and health reporting.
func (h *SubscriberHub) SubscriberCount(jobID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byJob[jobID])
}
