package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of ledger event kinds. Consumers that see an
// unknown kind must pass it through rather than reject it, per the event
// shape contract — new kinds may be added without breaking existing readers.
type EventKind string

// Supported kinds.
const (
	EventInfo       EventKind = "info"
	EventPlan       EventKind = "plan"
	EventDecision   EventKind = "decision"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventError      EventKind = "error"
	EventEscalation EventKind = "escalation"
	EventEvaluation EventKind = "evaluation"
	EventCompletion EventKind = "completion"
)

// Event is an immutable ledger record. Events are never mutated or deleted
// once appended.
type Event struct {
	ID       uuid.UUID
	JobID    uuid.UUID
	TraceID  string
	Sequence int64
	Kind     EventKind

	ToolName *string
	Params   []byte
	Result   []byte
	Summary  string

	TokensUsed *int
	CostCents  *int

	CreatedAt time.Time
}

// Conversation is a lightweight grouping for multi-job user threads.
type Conversation struct {
	ID        uuid.UUID
	CreatedAt time.Time
}
