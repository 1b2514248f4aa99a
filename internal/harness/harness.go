package harness

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/roach88/entitystore/internal/compiler"
	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/store"
)

// Harness is the test execution engine.
// It runs the steps of one scenario against one deployment.
type Harness struct {
	store        *store.Store
	sub          *store.Subscription
	deploymentID string
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Compile the manifest and register the deployment
// 2. Execute steps, recording a trace event per step
// 3. Evaluate assertions against the final state
//
// Step and assertion failures are reported in the result. An error is
// returned only when the scenario cannot run at all.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	manifest, err := compiler.LoadManifestDir(scenario.Manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	d, err := st.CreateDeployment(ctx, scenario.DeploymentID, *manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to create deployment: %w", err)
	}

	sub := st.Subscribe(d.ID)
	defer sub.Close()

	h := &Harness{store: st, sub: sub, deploymentID: d.ID}
	log.Debug("running scenario", zap.String("scenario", scenario.Name), zap.String("deployment", d.ID))

	result := NewResult()
	result.DeploymentID = d.ID
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}

	actx := &AssertionContext{Store: st, Ctx: ctx, DeploymentID: d.ID}
	for _, errMsg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeStep runs one step and appends its trace event. The sequence
// number is the 1-based step position.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) {
	event := TraceEvent{Seq: int64(index + 1)}

	var err error
	switch {
	case step.Block != nil:
		event.Type = TraceApply
		event.Block = step.Block
		var ops []ir.EntityOperation
		if ops, err = Operations(step.Ops); err == nil {
			err = h.store.Apply(ctx, h.deploymentID, BlockPtr(*step.Block, step.Hash), ops)
		}
	case step.Revert != nil:
		event.Type = TraceRevert
		event.Block = step.Revert
		err = h.store.RevertTo(ctx, h.deploymentID, *step.Revert)
	case step.Prune != nil:
		event.Type = TracePrune
		event.Block = step.Prune
		err = h.store.Prune(ctx, h.deploymentID, *step.Prune)
	case step.Query != nil:
		event.Type = TraceQuery
		event.Block = step.Query.Block
		event.IDs, err = h.query(ctx, step.Query)
		if err == nil && !slices.Equal(event.IDs, step.Query.Expect) {
			result.AddError(fmt.Sprintf("steps[%d]: query returned %v, expected %v", index, event.IDs, step.Query.Expect))
		}
	}

	event.Events, event.Changes = h.drain()

	if err != nil {
		event.Error = errorCode(err)
	}
	switch {
	case err != nil && step.ExpectError == "":
		result.AddError(fmt.Sprintf("steps[%d]: %s failed: %v", index, event.Type, err))
	case step.ExpectError != "" && event.Error != step.ExpectError:
		got := event.Error
		if got == "" {
			got = "success"
		}
		result.AddError(fmt.Sprintf("steps[%d]: expected error %s, got %s", index, step.ExpectError, got))
	}

	result.Trace = append(result.Trace, event)
}

func (h *Harness) query(ctx context.Context, q *QueryStep) ([]string, error) {
	query, err := q.Build()
	if err != nil {
		return nil, err
	}
	entities, err := h.store.Query(ctx, h.deploymentID, query)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID()
	}
	return ids, nil
}

// drain collects the store events already published for the deployment.
// Events are delivered before Apply and RevertTo return, so nothing
// published by the step can still be in flight.
func (h *Harness) drain() (int, []store.EntityChange) {
	var (
		n       int
		changes []store.EntityChange
	)
	for {
		select {
		case ev, ok := <-h.sub.C:
			if !ok {
				return n, changes
			}
			n++
			changes = append(changes, ev.Changes...)
		default:
			return n, changes
		}
	}
}

// errorCode returns the stable code of err, or "ERROR" for errors without
// one.
func errorCode(err error) string {
	if code := store.CodeOf(err); code != "" {
		return code
	}
	return "ERROR"
}
