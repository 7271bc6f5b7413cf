package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/engine"
	"github.com/dxcp/dxcp/internal/metrics"
	"github.com/dxcp/dxcp/internal/store"
)

const (
	deploymentPartition   = "deployment"
	concurrencyPartition  = "concurrency"
	runningStatePartition = "running_state"
)

// ErrAlreadyRunning is returned when a deployment intent is accepted for
// a (deliveryGroup, environment) that already has a non-terminal
// deployment in flight.
type ErrAlreadyRunning struct {
	DeliveryGroupID string
	Environment     string
}

func (e *ErrAlreadyRunning) Error() string {
	return fmt.Sprintf("domain: delivery group %q already has a non-terminal deployment in environment %q", e.DeliveryGroupID, e.Environment)
}

// ErrEngineTriggerFailed wraps the engine adapter's own trigger failure so
// the caller can surface ENGINE_TRIGGER_FAILED without a DeploymentRecord
// ever having been persisted: trigger failures are not retried
// automatically and leave no partial record behind.
type ErrEngineTriggerFailed struct {
	Reason string
}

func (e *ErrEngineTriggerFailed) Error() string {
	return "domain: engine trigger failed: " + e.Reason
}

// ErrRollbackTargetNotTerminal is returned when a rollback is requested
// against a deployment that has not reached SUCCEEDED (v1 only supports
// rollback-from-SUCCEEDED, per the recorded open-question decision).
type ErrRollbackTargetNotTerminal struct {
	DeploymentID string
	State        DeploymentState
}

func (e *ErrRollbackTargetNotTerminal) Error() string {
	return fmt.Sprintf("domain: deployment %q is in state %s, not eligible for rollback", e.DeploymentID, e.State)
}

// DeploymentRepo orchestrates deployment/rollback acceptance, the
// group-scoped concurrency guard, engine triggering, failure recording,
// and the CurrentRunningState projection. It composes a repository, an
// external client (the engine adapter), and a single guarded key per
// invariant rather than a cross-entity transaction.
type DeploymentRepo struct {
	st      store.Store
	clock   clock.Clock
	ids     clock.IDGenerator
	adapter engine.Adapter
	audit   *AuditLog
}

// NewDeploymentRepo wraps st for DeploymentRecord persistence.
func NewDeploymentRepo(st store.Store, clk clock.Clock, ids clock.IDGenerator, adapter engine.Adapter, audit *AuditLog) *DeploymentRepo {
	return &DeploymentRepo{st: st, clock: clk, ids: ids, adapter: adapter, audit: audit}
}

func concurrencySortKey(deliveryGroupID, environment string) string {
	return deliveryGroupID + ":" + environment
}

// Get returns the DeploymentRecord with id, or ErrNotFound.
func (r *DeploymentRepo) Get(ctx context.Context, id string) (*DeploymentRecord, error) {
	item, err := r.st.Get(ctx, deploymentPartition, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, &ErrNotFound{Kind: "deployment", ID: id}
		}
		return nil, err
	}
	var rec DeploymentRecord
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return nil, fmt.Errorf("domain: decode deployment %q: %w", id, err)
	}
	return &rec, nil
}

// List returns deployments matching the given filters, paginated by the
// store cursor. Filtering is applied at the application level over a
// full partition scan since the store only supports prefix scans, not
// arbitrary predicates; acceptable at DXCP's scale.
func (r *DeploymentRepo) List(ctx context.Context, cursor string, limit int, service, state, environment, deliveryGroupID string) ([]DeploymentRecord, string, error) {
	page, err := r.st.ScanPrefix(ctx, deploymentPartition, "", cursor, limit)
	if err != nil {
		return nil, "", err
	}
	out := make([]DeploymentRecord, 0, len(page.Items))
	for _, item := range page.Items {
		var rec DeploymentRecord
		if err := json.Unmarshal(item.Value, &rec); err != nil {
			return nil, "", fmt.Errorf("domain: decode deployment: %w", err)
		}
		if service != "" && rec.Service != service {
			continue
		}
		if state != "" && string(rec.State) != state {
			continue
		}
		if environment != "" && rec.Environment != environment {
			continue
		}
		if deliveryGroupID != "" && rec.DeliveryGroupID != deliveryGroupID {
			continue
		}
		out = append(out, rec)
	}
	return out, page.NextCursor, nil
}

// AcceptIntentParams carries everything the caller (the handler layer,
// after running the full policy pipeline) has already resolved about
// the accepted intent.
type AcceptIntentParams struct {
	Intent                   DeploymentIntent
	Principal                Principal
	DeliveryGroupID          string
	RecipeRevision           int64
	EffectiveBehaviorSummary string
	Pipeline                 string
}

// AcceptIntent claims the group-scoped concurrency sentinel, triggers
// the engine, and — only on a successful trigger — persists the new
// DeploymentRecord in ACTIVE state. A failed trigger releases the
// sentinel and returns ErrEngineTriggerFailed without ever writing a
// record, so there is no partial/ghost deployment for a trigger that
// never started.
func (r *DeploymentRepo) AcceptIntent(ctx context.Context, p AcceptIntentParams) (*DeploymentRecord, error) {
	sentinelSort := concurrencySortKey(p.DeliveryGroupID, p.Intent.Environment)
	sentinelValue, _ := json.Marshal(map[string]string{"deploymentId": ""})
	if _, err := r.st.Put(ctx, store.PutRequest{
		Partition: concurrencyPartition,
		Sort:      sentinelSort,
		Value:     sentinelValue,
		Condition: store.MustNotExist,
	}); err != nil {
		if store.IsConflict(err) {
			return nil, &ErrAlreadyRunning{DeliveryGroupID: p.DeliveryGroupID, Environment: p.Intent.Environment}
		}
		return nil, err
	}

	now := r.clock.Now()
	rec := DeploymentRecord{
		ID:                       r.ids.NewID(),
		Service:                  p.Intent.Service,
		DeliveryGroupID:          p.DeliveryGroupID,
		Environment:              p.Intent.Environment,
		Version:                  p.Intent.Version,
		ChangeSummary:            p.Intent.ChangeSummary,
		RecipeID:                 p.Intent.RecipeID,
		RecipeRevision:           p.RecipeRevision,
		EffectiveBehaviorSummary: p.EffectiveBehaviorSummary,
		Kind:                     KindDeploy,
		State:                    StatePending,
		CreatedBy:                p.Principal.Subject,
		AcceptedAt:               now,
		UpdatedAt:                now,
	}

	executionID, err := r.adapter.Trigger(ctx, engine.TriggerRequest{
		Kind:        string(KindDeploy),
		Application: p.Intent.Service,
		Pipeline:    p.Pipeline,
		Parameters: map[string]string{
			"environment": p.Intent.Environment,
			"version":     p.Intent.Version,
			"recipeId":    p.Intent.RecipeID,
		},
	})
	if err != nil {
		r.releaseSentinel(ctx, sentinelSort)
		return nil, &ErrEngineTriggerFailed{Reason: err.Error()}
	}

	rec.ExecutionID = executionID
	rec.State = StateActive
	if err := r.persist(ctx, rec, store.MustNotExist); err != nil {
		r.releaseSentinel(ctx, sentinelSort)
		return nil, err
	}

	if err := r.claimSentinel(ctx, sentinelSort, rec.ID); err != nil {
		return nil, err
	}

	metrics.DeploymentsAccepted.WithLabelValues(string(KindDeploy), rec.DeliveryGroupID, rec.Environment).Inc()

	return &rec, nil
}

// AcceptRollback submits a rollback execution against a deployment that
// has reached SUCCEEDED. v1 only supports rollback-from-terminal-SUCCEEDED
// (recorded open-question decision) — rolling back a FAILED or
// already-ROLLED_BACK deployment is rejected.
func (r *DeploymentRepo) AcceptRollback(ctx context.Context, target DeploymentRecord, principal Principal, pipeline string) (*DeploymentRecord, error) {
	if target.State != StateSucceeded {
		return nil, &ErrRollbackTargetNotTerminal{DeploymentID: target.ID, State: target.State}
	}

	sentinelSort := concurrencySortKey(target.DeliveryGroupID, target.Environment)
	sentinelValue, _ := json.Marshal(map[string]string{"deploymentId": ""})
	if _, err := r.st.Put(ctx, store.PutRequest{
		Partition: concurrencyPartition,
		Sort:      sentinelSort,
		Value:     sentinelValue,
		Condition: store.MustNotExist,
	}); err != nil {
		if store.IsConflict(err) {
			return nil, &ErrAlreadyRunning{DeliveryGroupID: target.DeliveryGroupID, Environment: target.Environment}
		}
		return nil, err
	}

	now := r.clock.Now()
	rec := DeploymentRecord{
		ID:                       r.ids.NewID(),
		Service:                  target.Service,
		DeliveryGroupID:          target.DeliveryGroupID,
		Environment:              target.Environment,
		Version:                  target.Version,
		RecipeID:                 target.RecipeID,
		RecipeRevision:           target.RecipeRevision,
		EffectiveBehaviorSummary: target.EffectiveBehaviorSummary,
		Kind:                     KindRollback,
		RollbackOf:               target.ID,
		State:                    StatePending,
		CreatedBy:                principal.Subject,
		AcceptedAt:               now,
		UpdatedAt:                now,
	}

	executionID, err := r.adapter.Trigger(ctx, engine.TriggerRequest{
		Kind:        string(KindRollback),
		Application: target.Service,
		Pipeline:    pipeline,
		Parameters: map[string]string{
			"environment":  target.Environment,
			"version":      target.Version,
			"recipeId":     target.RecipeID,
			"rollbackOfId": target.ID,
		},
	})
	if err != nil {
		r.releaseSentinel(ctx, sentinelSort)
		return nil, &ErrEngineTriggerFailed{Reason: err.Error()}
	}

	rec.ExecutionID = executionID
	rec.State = StateActive
	if err := r.persist(ctx, rec, store.MustNotExist); err != nil {
		r.releaseSentinel(ctx, sentinelSort)
		return nil, err
	}
	if err := r.claimSentinel(ctx, sentinelSort, rec.ID); err != nil {
		return nil, err
	}

	metrics.DeploymentsAccepted.WithLabelValues(string(KindRollback), rec.DeliveryGroupID, rec.Environment).Inc()

	return &rec, nil
}

// ApplyTransition validates and applies a state transition, releasing the
// concurrency sentinel and recomputing CurrentRunningState whenever the
// new state is terminal. Called by the reconciler as it observes engine
// status.
func (r *DeploymentRepo) ApplyTransition(ctx context.Context, id string, to DeploymentState) (*DeploymentRecord, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	outcome, err := Transition(rec.State, to)
	if err != nil {
		return nil, err
	}
	if rec.State == to {
		return rec, nil
	}

	from := rec.State
	now := r.clock.Now()
	rec.State = to
	rec.Outcome = outcome
	rec.UpdatedAt = now
	if to.Terminal() {
		rec.TerminalAt = now
	}

	if err := r.persist(ctx, *rec, store.None); err != nil {
		return nil, err
	}
	metrics.DeploymentTransitions.WithLabelValues(string(from), string(to)).Inc()

	if to.Terminal() {
		r.releaseSentinel(ctx, concurrencySortKey(rec.DeliveryGroupID, rec.Environment))

		if to == StateSucceeded && rec.Kind == KindDeploy {
			if err := r.recomputeRunningState(ctx, *rec); err != nil {
				return nil, err
			}
		}
		if to == StateSucceeded && rec.Kind == KindRollback && rec.RollbackOf != "" {
			if err := r.markRolledBack(ctx, rec.RollbackOf); err != nil {
				return nil, err
			}
			if err := r.recomputeRunningState(ctx, *rec); err != nil {
				return nil, err
			}
		}
	}

	return rec, nil
}

// markRolledBack sets a previously-SUCCEEDED deployment's outcome to
// ROLLED_BACK once its rollback execution itself reaches SUCCEEDED.
// Outcome can change independent of the terminal transition that
// first produced it.
func (r *DeploymentRepo) markRolledBack(ctx context.Context, targetID string) error {
	target, err := r.Get(ctx, targetID)
	if err != nil {
		return err
	}
	target.Outcome = OutcomeRolledBack
	target.UpdatedAt = r.clock.Now()
	return r.persist(ctx, *target, store.None)
}

// AppendFailure records one normalized engine failure for a deployment,
// assigning the next sequence number. Failures are append-only and
// ordered.
func (r *DeploymentRepo) AppendFailure(ctx context.Context, deploymentID string, f engine.Failure) (*FailureEvent, error) {
	existing, _, err := r.listFailures(ctx, deploymentID, "", 0)
	if err != nil {
		return nil, err
	}
	ev := FailureEvent{
		DeploymentID: deploymentID,
		Seq:          len(existing) + 1,
		Category:     FailureCategory(f.Category),
		Summary:      f.Summary,
		Detail:       f.Detail,
		ActionHint:   f.ActionHint,
		OccurredAt:   r.clock.Now(),
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	sort := fmt.Sprintf("%s:%06d", deploymentID, ev.Seq)
	if _, err := r.st.Put(ctx, store.PutRequest{
		Partition: "failure",
		Sort:      sort,
		Value:     value,
		Condition: store.MustNotExist,
	}); err != nil {
		return nil, err
	}
	metrics.DeploymentFailures.WithLabelValues(string(ev.Category)).Inc()
	return &ev, nil
}

// ListFailures returns the failure events recorded for a deployment, in
// occurrence order.
func (r *DeploymentRepo) ListFailures(ctx context.Context, deploymentID, cursor string, limit int) ([]FailureEvent, string, error) {
	return r.listFailures(ctx, deploymentID, cursor, limit)
}

func (r *DeploymentRepo) listFailures(ctx context.Context, deploymentID, cursor string, limit int) ([]FailureEvent, string, error) {
	page, err := r.st.ScanPrefix(ctx, "failure", deploymentID+":", cursor, limit)
	if err != nil {
		return nil, "", err
	}
	events := make([]FailureEvent, 0, len(page.Items))
	for _, item := range page.Items {
		var ev FailureEvent
		if err := json.Unmarshal(item.Value, &ev); err != nil {
			return nil, "", fmt.Errorf("domain: decode failure event: %w", err)
		}
		events = append(events, ev)
	}
	return events, page.NextCursor, nil
}

// CurrentRunningState returns the latest known-good deployment for a
// service, or ErrNotFound if none has ever succeeded.
func (r *DeploymentRepo) CurrentRunningState(ctx context.Context, service string) (*CurrentRunningState, error) {
	item, err := r.st.Get(ctx, runningStatePartition, service)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, &ErrNotFound{Kind: "currentRunningState", ID: service}
		}
		return nil, err
	}
	var crs CurrentRunningState
	if err := json.Unmarshal(item.Value, &crs); err != nil {
		return nil, fmt.Errorf("domain: decode running state %q: %w", service, err)
	}
	return &crs, nil
}

func (r *DeploymentRepo) recomputeRunningState(ctx context.Context, rec DeploymentRecord) error {
	crs := CurrentRunningState{
		Service:      rec.Service,
		DeploymentID: rec.ID,
		Version:      rec.Version,
		Environment:  rec.Environment,
		AcceptedAt:   rec.AcceptedAt,
	}
	value, err := json.Marshal(crs)
	if err != nil {
		return err
	}
	_, err = r.st.Put(ctx, store.PutRequest{
		Partition: runningStatePartition,
		Sort:      rec.Service,
		Value:     value,
		Condition: store.None,
	})
	return err
}

func (r *DeploymentRepo) persist(ctx context.Context, rec DeploymentRecord, cond store.Condition) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = r.st.Put(ctx, store.PutRequest{
		Partition: deploymentPartition,
		Sort:      rec.ID,
		Value:     value,
		Condition: cond,
	})
	return err
}

func (r *DeploymentRepo) claimSentinel(ctx context.Context, sort, deploymentID string) error {
	item, err := r.st.Get(ctx, concurrencyPartition, sort)
	if err != nil {
		return err
	}
	value, _ := json.Marshal(map[string]string{"deploymentId": deploymentID})
	_, err = r.st.Put(ctx, store.PutRequest{
		Partition:     concurrencyPartition,
		Sort:          sort,
		Value:         value,
		Condition:     store.MustExistWithVersion,
		ExpectVersion: item.Version,
	})
	return err
}

// releaseSentinel deletes the group-scoped concurrency sentinel. Errors
// are not propagated to the caller: a stuck sentinel is recovered by the
// reconciler's resumability sweep, and failing the already-failed
// request path on a cleanup error would hide the real failure.
func (r *DeploymentRepo) releaseSentinel(ctx context.Context, sort string) {
	_ = r.st.Delete(ctx, concurrencyPartition, sort)
}

// ConcurrentNonTerminalExists reports whether a group/environment pair
// currently holds the concurrency sentinel, for the pre-acceptance
// check run ahead of AcceptIntent (so the policy violation can be
// reported without attempting — and failing — the actual claim).
func (r *DeploymentRepo) ConcurrentNonTerminalExists(ctx context.Context, deliveryGroupID, environment string) (bool, error) {
	_, err := r.st.Get(ctx, concurrencyPartition, concurrencySortKey(deliveryGroupID, environment))
	if err != nil {
		if store.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
