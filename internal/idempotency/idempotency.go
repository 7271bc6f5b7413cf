// Package idempotency implements the fingerprint/replay/conflict
// semantics for mutating requests: a caller-supplied Idempotency-Key,
// scoped to the principal, is stored alongside a fingerprint of the
// request (method + path + canonical JSON body) and, once the original
// request completes, the recorded response. A replayed request with a
// matching fingerprint gets the cached response back; one with a
// mismatched fingerprint is a conflict.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/store"
)

const partition = "idempotency"

// Record is the durable state kept per (principal, key).
type Record struct {
	Fingerprint  string            `json:"fingerprint"`
	Status       string            `json:"status"` // "pending" or "completed"
	ResponseCode int               `json:"responseCode,omitempty"`
	ResponseBody json.RawMessage   `json:"responseBody,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// ErrConflict is returned when an idempotency key is replayed with a
// body/path/method that doesn't match the original request.
type ErrConflict struct{ Key string }

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("idempotency: key %q reused with a different request", e.Key)
}

// ErrInFlight is returned when a concurrent request with the same key is
// still being processed (no recorded response yet).
type ErrInFlight struct{ Key string }

func (e *ErrInFlight) Error() string {
	return fmt.Sprintf("idempotency: key %q is already being processed", e.Key)
}

// Store wraps store.Store with idempotency-specific operations.
type Store struct {
	st    store.Store
	clock clock.Clock
	ttl   time.Duration
}

// New creates an idempotency Store with the given record TTL, defaulting to 24h.
func New(st store.Store, clk clock.Clock, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{st: st, clock: clk, ttl: ttl}
}

// Fingerprint hashes method, path, and canonical JSON body into an
// opaque token used to detect key reuse with a different request.
func Fingerprint(method, path string, body []byte) string {
	var v interface{}
	if json.Unmarshal(body, &v) == nil {
		if canonical, err := json.Marshal(v); err == nil {
			body = canonical
		}
	}
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin registers a new in-flight request under (principal, key). If a
// record already exists: a matching fingerprint with a completed
// response returns that response (replay=true); a matching fingerprint
// still pending returns ErrInFlight; a mismatched fingerprint returns
// ErrConflict.
func (s *Store) Begin(ctx context.Context, principal, key, fingerprint string) (record *Record, replay bool, err error) {
	sort := recordKey(principal, key)
	item, getErr := s.st.Get(ctx, partition, sort)
	if getErr != nil && !store.IsNotFound(getErr) {
		return nil, false, getErr
	}

	if getErr == nil {
		var existing Record
		if err := json.Unmarshal(item.Value, &existing); err != nil {
			return nil, false, fmt.Errorf("idempotency: decode record: %w", err)
		}
		if existing.Fingerprint != fingerprint {
			return nil, false, &ErrConflict{Key: key}
		}
		if existing.Status == "pending" {
			return nil, false, &ErrInFlight{Key: key}
		}
		return &existing, true, nil
	}

	rec := Record{Fingerprint: fingerprint, Status: "pending", CreatedAt: s.clock.Now()}
	value, _ := json.Marshal(rec)
	_, putErr := s.st.Put(ctx, store.PutRequest{
		Partition: partition,
		Sort:      sort,
		Value:     value,
		Condition: store.MustNotExist,
		TTL:       s.ttl,
	})
	if putErr != nil {
		if store.IsConflict(putErr) {
			return s.Begin(ctx, principal, key, fingerprint)
		}
		return nil, false, putErr
	}
	return &rec, false, nil
}

// Complete records the response for a previously-begun key so future
// replays can be served without re-executing side effects.
func (s *Store) Complete(ctx context.Context, principal, key string, statusCode int, body json.RawMessage, headers map[string]string) error {
	sort := recordKey(principal, key)
	item, err := s.st.Get(ctx, partition, sort)
	if err != nil {
		return err
	}
	var rec Record
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return fmt.Errorf("idempotency: decode record: %w", err)
	}
	rec.Status = "completed"
	rec.ResponseCode = statusCode
	rec.ResponseBody = body
	rec.Headers = headers

	value, _ := json.Marshal(rec)
	_, err = s.st.Put(ctx, store.PutRequest{
		Partition:     partition,
		Sort:          sort,
		Value:         value,
		Condition:     store.MustExistWithVersion,
		ExpectVersion: item.Version,
		TTL:           s.ttl,
	})
	return err
}

func recordKey(principal, key string) string {
	return principal + ":" + key
}
