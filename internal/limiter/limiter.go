// Package limiter implements the store-backed sliding-window rate limit
// and daily quota counters. Unlike an in-process
// golang.org/x/time/rate token bucket (fine for a single replica with
// no persistence requirement), DXCP's counters must survive a replica
// restart and be shared across replicas, so counts live in store.Store
// under per-principal, per-window keys instead of in an in-memory map.
package limiter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/store"
)

const (
	rateLimitPartition = "ratelimit"
	quotaPartition     = "quota"
)

// Limiter enforces the sliding-window rate limit and daily quota checks.
type Limiter struct {
	st    store.Store
	clock clock.Clock
}

// New creates a Limiter backed by st.
func New(st store.Store, clk clock.Clock) *Limiter {
	return &Limiter{st: st, clock: clk}
}

type windowCounter struct {
	Count int `json:"count"`
}

// AllowRate applies the two-adjacent-fixed-bucket sliding window
// approximation over window for principal: the current bucket's count
// plus the previous bucket's count weighted by the fraction of the
// window elapsed since the current bucket started, compared against
// max. Increments the current bucket's counter whenever the request is
// allowed, before the caller's side effects run.
func (l *Limiter) AllowRate(ctx context.Context, principal string, window time.Duration, max int) (bool, error) {
	now := l.clock.Now()
	bucketSize := window
	bucketIndex := now.UnixNano() / int64(bucketSize)
	prevIndex := bucketIndex - 1

	curCount, err := l.getCount(ctx, rateLimitPartition, rateKey(principal, bucketIndex))
	if err != nil {
		return false, err
	}
	prevCount, err := l.getCount(ctx, rateLimitPartition, rateKey(principal, prevIndex))
	if err != nil {
		return false, err
	}

	bucketStart := time.Unix(0, bucketIndex*int64(bucketSize))
	elapsed := now.Sub(bucketStart)
	fraction := 1.0 - float64(elapsed)/float64(bucketSize)
	if fraction < 0 {
		fraction = 0
	}

	weighted := float64(curCount) + float64(prevCount)*fraction
	if weighted >= float64(max) {
		return false, nil
	}

	if err := l.incrementCount(ctx, rateLimitPartition, rateKey(principal, bucketIndex), window*2); err != nil {
		return false, err
	}
	return true, nil
}

// AllowDaily enforces a calendar-day quota (UTC) for the given counter
// name (e.g. "deploy", "rollback", "build_register") scoped to scope
// (typically a delivery group id or principal subject).
func (l *Limiter) AllowDaily(ctx context.Context, counterName, scope string, max int) (bool, error) {
	now := l.clock.Now()
	day := now.UTC().Format("2006-01-02")
	sort := fmt.Sprintf("%s:%s:%s", counterName, scope, day)

	count, err := l.getCount(ctx, quotaPartition, sort)
	if err != nil {
		return false, err
	}
	if count >= max {
		return false, nil
	}

	if err := l.incrementCount(ctx, quotaPartition, sort, 25*time.Hour); err != nil {
		return false, err
	}
	return true, nil
}

func rateKey(principal string, bucketIndex int64) string {
	return fmt.Sprintf("%s:%d", principal, bucketIndex)
}

func (l *Limiter) getCount(ctx context.Context, partition, sort string) (int, error) {
	item, err := l.st.Get(ctx, partition, sort)
	if err != nil {
		if store.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	var wc windowCounter
	if err := json.Unmarshal(item.Value, &wc); err != nil {
		return 0, fmt.Errorf("limiter: decode counter: %w", err)
	}
	return wc.Count, nil
}

// incrementCount performs a read-increment-write loop with optimistic
// concurrency via MustExistWithVersion/MustNotExist, making up to three
// attempts when it loses a race, since counters only ever need to be approximately accurate:
// over-counting under contention is tolerated, under-counting is not.
func (l *Limiter) incrementCount(ctx context.Context, partition, sort string, ttl time.Duration) error {
	for attempt := 0; attempt < 3; attempt++ {
		item, err := l.st.Get(ctx, partition, sort)
		if err != nil && !store.IsNotFound(err) {
			return err
		}

		if store.IsNotFound(err) {
			value, _ := json.Marshal(windowCounter{Count: 1})
			_, putErr := l.st.Put(ctx, store.PutRequest{
				Partition: partition,
				Sort:      sort,
				Value:     value,
				Condition: store.MustNotExist,
				TTL:       ttl,
			})
			if putErr == nil || !store.IsConflict(putErr) {
				return putErr
			}
			continue
		}

		var wc windowCounter
		if err := json.Unmarshal(item.Value, &wc); err != nil {
			return fmt.Errorf("limiter: decode counter: %w", err)
		}
		wc.Count++
		value, _ := json.Marshal(wc)
		_, putErr := l.st.Put(ctx, store.PutRequest{
			Partition:     partition,
			Sort:          sort,
			Value:         value,
			Condition:     store.MustExistWithVersion,
			ExpectVersion: item.Version,
			TTL:           ttl,
		})
		if putErr == nil || !store.IsConflict(putErr) {
			return putErr
		}
	}
	return fmt.Errorf("limiter: too much contention incrementing %s/%s", partition, sort)
}
