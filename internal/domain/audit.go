package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/store"
)

const auditPartition = "audit"

// AuditLog is an append-only writer for AuditEvents.
// Deletion is intentionally not exposed.
type AuditLog struct {
	st    store.Store
	clock clock.Clock
	ids   clock.IDGenerator
}

// NewAuditLog wraps st for audit persistence.
func NewAuditLog(st store.Store, clk clock.Clock, ids clock.IDGenerator) *AuditLog {
	return &AuditLog{st: st, clock: clk, ids: ids}
}

// Record appends one AuditEvent, stamping its id and timestamp. The
// sort key is time-prefixed so ScanPrefix naturally yields events in
// occurrence order.
func (a *AuditLog) Record(ctx context.Context, ev AuditEvent) error {
	ev.OccurredAt = a.clock.Now()
	ev.ID = a.ids.NewID()
	sortKey := fmt.Sprintf("%020d:%s", ev.OccurredAt.UnixNano(), ev.ID)

	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = a.st.Put(ctx, store.PutRequest{
		Partition: auditPartition,
		Sort:      sortKey,
		Value:     value,
		Condition: store.MustNotExist,
	})
	return err
}

// List returns audit events in occurrence order, paginated by the store
// cursor, backing the supplemented GET /admin/system/audit endpoint.
func (a *AuditLog) List(ctx context.Context, cursor string, limit int) ([]AuditEvent, string, error) {
	page, err := a.st.ScanPrefix(ctx, auditPartition, "", cursor, limit)
	if err != nil {
		return nil, "", err
	}
	events := make([]AuditEvent, 0, len(page.Items))
	for _, item := range page.Items {
		var ev AuditEvent
		if err := json.Unmarshal(item.Value, &ev); err != nil {
			return nil, "", fmt.Errorf("domain: decode audit event: %w", err)
		}
		events = append(events, ev)
	}
	return events, page.NextCursor, nil
}
