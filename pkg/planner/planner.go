// Package planner defines the boundary between AgentLoop and the external
// LLM adapter, treating the LLM as a step function
// `propose(history, tools) → ToolCall | FinalAnswer`. This collapses a
// channel-based streaming surface (a GenerateInput/Chunk pair) to one
// blocking Propose call returning a closed Decision sum type, matching the
// three responses an agent step can produce: call, answer, escalate.
package planner

import (
	"context"
	"encoding/json"

	"github.com/forgebound/jobcore/pkg/models"
	"github.com/forgebound/jobcore/pkg/tools"
)

// Kind is the closed set of decisions a Planner may return.
type Kind string

// Supported kinds.
const (
	KindCall     Kind = "call"
	KindAnswer   Kind = "answer"
	KindEscalate Kind = "escalate"
)

// Decision is the Planner's response for one AgentLoop iteration. Exactly
// one of the Kind-specific fields is meaningful for a given Kind.
type Decision struct {
	Kind Kind

	// Call fields, meaningful when Kind == KindCall.
	ToolName string
	Params   json.RawMessage

	// Answer fields, meaningful when Kind == KindAnswer.
	Answer string

	// Escalate fields, meaningful when Kind == KindEscalate.
	EscalationReason string

	// TokensUsed and CostCents are what this one Propose call itself spent,
	// charged by AgentLoop alongside whatever the resulting tool call costs.
	TokensUsed int
	CostCents  int
}

// Request is everything a Planner needs to produce the next Decision. It
// carries no mutable state of its own: AgentLoop rebuilds it fresh each
// iteration from the job, the ledger history, and the tool catalog.
type Request struct {
	Job     *models.Job
	Goal    string
	History []models.Event
	Tools   []tools.Definition
}

// Planner is the external collaborator AgentLoop drives. Implementations
// wrap an LLM (or, in tests, a fixed script); the core never interprets what
// makes a Decision "intelligent" (out of scope for this module).
type Planner interface {
	Propose(ctx context.Context, req Request) (Decision, error)
}
