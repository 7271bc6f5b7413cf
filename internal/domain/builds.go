package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/store"
)

const buildPartition = "build"

// BuildRepo registers and looks up Build records keyed by (service,
// version); the pair is the guarded partition key that makes
// "immutable after creation" enforceable without a multi-item
// transaction.
type BuildRepo struct {
	st    store.Store
	clock clock.Clock
}

// NewBuildRepo wraps st for Build persistence.
func NewBuildRepo(st store.Store, clk clock.Clock) *BuildRepo {
	return &BuildRepo{st: st, clock: clk}
}

func buildSortKey(service, version string) string {
	return service + ":" + version
}

// Get returns the Build for (service, version), or ErrNotFound.
func (r *BuildRepo) Get(ctx context.Context, service, version string) (*Build, error) {
	item, err := r.st.Get(ctx, buildPartition, buildSortKey(service, version))
	if err != nil {
		if store.IsNotFound(err) {
			return nil, &ErrNotFound{Kind: "build", ID: buildSortKey(service, version)}
		}
		return nil, err
	}
	var b Build
	if err := json.Unmarshal(item.Value, &b); err != nil {
		return nil, fmt.Errorf("domain: decode build %s: %w", buildSortKey(service, version), err)
	}
	return &b, nil
}

// Exists reports whether a Build is registered for (service, version),
// used by the admission pipeline's build-existence check.
func (r *BuildRepo) Exists(ctx context.Context, service, version string) (bool, error) {
	_, err := r.Get(ctx, service, version)
	if err != nil {
		var notFound *ErrNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Register creates a new immutable Build. The caller (the handler
// layer, via internal/idempotency) is responsible for detecting
// re-registration of the same (service, version) with a different body
// as a conflict; Register itself fails with store.ErrConflict if the
// key already exists, since Builds never update in place.
func (r *BuildRepo) Register(ctx context.Context, b Build) (*Build, error) {
	b.RegisteredAt = r.clock.Now()
	value, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	if _, err := r.st.Put(ctx, store.PutRequest{
		Partition: buildPartition,
		Sort:      buildSortKey(b.Service, b.Version),
		Value:     value,
		Condition: store.MustNotExist,
	}); err != nil {
		return nil, err
	}
	return &b, nil
}
