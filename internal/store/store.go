// Package store defines the key/value contract every domain service is
// built on: conditional put, get, delete, prefix scan with a
// cursor, and TTL-based expiry. No component above this package assumes
// multi-item transactions — cross-item invariants are enforced by routing
// every invariant-bearing mutation through a single guarded partition key.
package store

import (
	"context"
	"errors"
	"time"
)

// Condition constrains a Put so the caller can express "create iff
// absent" or "replace iff at version N" without a separate read-then-write
// race window.
type Condition int

const (
	// None performs an unconditional upsert.
	None Condition = iota
	// MustNotExist fails with ErrConflict if an item already exists at
	// (partition, sort).
	MustNotExist
	// MustExistWithVersion fails with ErrConflict unless the stored item's
	// Version matches the value threaded through PutRequest.ExpectVersion.
	MustExistWithVersion
)

// Item is a single stored record. Version increments on every successful
// write and is used for MustExistWithVersion conditional puts.
type Item struct {
	Partition string
	Sort      string
	Value     []byte
	Version   int64
	ExpiresAt time.Time // zero means no expiry
}

// PutRequest describes a single conditional write.
type PutRequest struct {
	Partition      string
	Sort           string
	Value          []byte
	Condition      Condition
	ExpectVersion  int64         // used only when Condition == MustExistWithVersion
	TTL            time.Duration // zero means no expiry
}

// Page is one page of a prefix scan.
type Page struct {
	Items      []Item
	NextCursor string // empty means no further pages
}

// Store is the durable key/value contract consumed by every domain
// service and guardrail in this module. Implementations: memstore (tests,
// in-process fallback), pgstore (Postgres-backed, production) and
// redisstore (Redis-backed).
type Store interface {
	// Get returns the item at (partition, sort), or ErrNotFound.
	Get(ctx context.Context, partition, sort string) (Item, error)

	// Put writes an item subject to req.Condition, returning the new
	// Version on success or ErrConflict on a condition violation.
	Put(ctx context.Context, req PutRequest) (int64, error)

	// Delete removes the item at (partition, sort). Deleting an absent
	// item is not an error.
	Delete(ctx context.Context, partition, sort string) error

	// ScanPrefix lists items in partition whose sort key starts with
	// sortPrefix, paginated via cursor (empty cursor starts from the
	// beginning). pageSize <= 0 means "implementation default".
	ScanPrefix(ctx context.Context, partition, sortPrefix, cursor string, pageSize int) (Page, error)

	// Close releases any resources held by the store (connections,
	// background sweepers).
	Close() error
}

// ErrNotFound is returned by Get when no item exists at the given key.
var ErrNotFound = errors.New("store: item not found")

// ErrConflict is returned by Put when a conditional write's precondition
// does not hold: MustNotExist found an existing item, or
// MustExistWithVersion found no item or a mismatched version.
type ErrConflict struct {
	Partition string
	Sort      string
	Reason    string
}

func (e *ErrConflict) Error() string {
	return "store: conflict writing " + e.Partition + "/" + e.Sort + ": " + e.Reason
}

// IsConflict reports whether err is (or wraps) an ErrConflict.
func IsConflict(err error) bool {
	var c *ErrConflict
	return errors.As(err, &c)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
