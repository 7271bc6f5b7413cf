// Package memstore implements store.Store using an in-memory map. It
// backs unit tests and the in-memory engine adapter's test harness; it is
// NOT suitable for a production deployment of DXCP since none of its
// state survives a process restart.
//
// A single RWMutex guards the map; reads and writes deep-copy records
// so callers can't mutate shared state, and expiry is lazily swept
// instead of tracked with a background timer per key.
package memstore

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/store"
)

type record struct {
	value     []byte
	version   int64
	expiresAt time.Time
}

// Store is an in-memory, thread-safe implementation of store.Store.
type Store struct {
	mu     sync.RWMutex
	data   map[string]map[string]record // partition -> sort -> record
	clock  clock.Clock
	logger *slog.Logger
}

// New creates an empty in-memory store. logger may be nil (defaults to
// slog.Default()).
func New(clk clock.Clock, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		data:   make(map[string]map[string]record),
		clock:  clk,
		logger: logger,
	}
}

func (s *Store) expired(r record, now time.Time) bool {
	return !r.expiresAt.IsZero() && now.After(r.expiresAt)
}

func (s *Store) Get(ctx context.Context, partition, sortKey string) (store.Item, error) {
	s.mu.RLock()
	part, ok := s.data[partition]
	var r record
	var found bool
	if ok {
		r, found = part[sortKey]
	}
	s.mu.RUnlock()

	if !found || s.expired(r, s.clock.Now()) {
		return store.Item{}, store.ErrNotFound
	}
	return toItem(partition, sortKey, r), nil
}

func (s *Store) Put(ctx context.Context, req store.PutRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.data[req.Partition]
	if !ok {
		part = make(map[string]record)
		s.data[req.Partition] = part
	}

	existing, exists := part[req.Sort]
	now := s.clock.Now()
	if exists && s.expired(existing, now) {
		exists = false
	}

	switch req.Condition {
	case store.MustNotExist:
		if exists {
			return 0, &store.ErrConflict{Partition: req.Partition, Sort: req.Sort, Reason: "already exists"}
		}
	case store.MustExistWithVersion:
		if !exists {
			return 0, &store.ErrConflict{Partition: req.Partition, Sort: req.Sort, Reason: "does not exist"}
		}
		if existing.version != req.ExpectVersion {
			return 0, &store.ErrConflict{
				Partition: req.Partition,
				Sort:      req.Sort,
				Reason:    "version mismatch: expected " + strconv.FormatInt(req.ExpectVersion, 10) + " got " + strconv.FormatInt(existing.version, 10),
			}
		}
	}

	newVersion := existing.version + 1
	var expiresAt time.Time
	if req.TTL > 0 {
		expiresAt = now.Add(req.TTL)
	}

	part[req.Sort] = record{
		value:     append([]byte(nil), req.Value...),
		version:   newVersion,
		expiresAt: expiresAt,
	}

	s.logger.Debug("memstore put", "partition", req.Partition, "sort", req.Sort, "version", newVersion)
	return newVersion, nil
}

func (s *Store) Delete(ctx context.Context, partition, sortKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if part, ok := s.data[partition]; ok {
		delete(part, sortKey)
	}
	return nil
}

func (s *Store) ScanPrefix(ctx context.Context, partition, sortPrefix, cursor string, pageSize int) (store.Page, error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	s.mu.RLock()
	part := s.data[partition]
	keys := make([]string, 0, len(part))
	now := s.clock.Now()
	for k, r := range part {
		if strings.HasPrefix(k, sortPrefix) && !s.expired(r, now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if cursor != "" {
		idx := sort.SearchStrings(keys, cursor)
		start = idx
	}

	end := start + pageSize
	if end > len(keys) {
		end = len(keys)
	}
	if start > len(keys) {
		start = len(keys)
	}

	items := make([]store.Item, 0, end-start)
	for _, k := range keys[start:end] {
		items = append(items, toItem(partition, k, part[k]))
	}

	var next string
	if end < len(keys) {
		next = keys[end]
	}
	s.mu.RUnlock()

	return store.Page{Items: items, NextCursor: next}, nil
}

// Sweep removes expired items eagerly; call it on a ticker (the pgstore
// equivalent relies on the database's own TTL/expiry column scan instead).
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for _, part := range s.data {
		for k, r := range part {
			if s.expired(r, now) {
				delete(part, k)
				removed++
			}
		}
	}
	return removed
}

func (s *Store) Close() error { return nil }

func toItem(partition, sortKey string, r record) store.Item {
	return store.Item{
		Partition: partition,
		Sort:      sortKey,
		Value:     append([]byte(nil), r.value...),
		Version:   r.version,
		ExpiresAt: r.expiresAt,
	}
}
