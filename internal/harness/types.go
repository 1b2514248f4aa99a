package harness

import "github.com/roach88/entitystore/internal/store"

// Trace event types.
const (
	TraceApply  = "apply"
	TraceRevert = "revert"
	TracePrune  = "prune"
	TraceQuery  = "query"
)

// TraceEvent records one executed step and what the store reported for it.
type TraceEvent struct {
	Seq   int64  `json:"seq"`
	Type  string `json:"type"`
	Block *int64 `json:"block,omitempty"`
	// Events is the number of store events the step published.
	Events int `json:"events"`
	// Changes are the entity changes of those events, in commit order.
	Changes []store.EntityChange `json:"changes,omitempty"`
	// IDs are the entity ids a query returned.
	IDs []string `json:"ids,omitempty"`
	// Error is the error code the step failed with.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step behaved as expected and all assertions hold.
	Pass bool `json:"pass"`

	// DeploymentID is the id the scenario's deployment was registered under.
	DeploymentID string `json:"deployment_id"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
