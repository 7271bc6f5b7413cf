// Package clock provides an injectable notion of wall time and identifier
// generation, so the request pipeline and background reconciler can be
// exercised deterministically in tests.
package clock

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock is the time source consumed by every component that stamps
// records or evaluates deadlines. Production code uses Real; tests use
// Fake.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints collision-resistant identifiers for new entities.
type IDGenerator interface {
	NewID() string
}

// Real is the production Clock, backed by time.Now.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// UUIDGenerator mints RFC 4122 v4 identifiers via google/uuid.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// Fake is a controllable Clock for tests: it starts at a fixed instant and
// only advances when Advance is called, never on its own.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a Fake clock pinned at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d and returns the new instant.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// SequentialIDs hands out deterministic, strictly increasing IDs for tests
// that need stable fixtures instead of random UUIDs.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequentialIDs creates a generator that yields "<prefix>-1", "<prefix>-2", ...
func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

func (s *SequentialIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.prefix + "-" + strconv.Itoa(s.next)
}
