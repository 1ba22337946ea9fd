// Package clock provides the monotonic wall-clock and identifier primitives
// shared by the merge queue engine and the workspace integrity engine.
//
// Every timestamp stored by the queue is seconds since the Unix epoch, never
// a monotonic-only value, because leases and freshness comparisons must
// survive a process restart.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/lprior-repo/zjj/internal/idgen"
)

// Clock supplies the current time. Production code uses RealClock; tests
// inject a FakeClock to exercise lease expiry and recovery-sweep cutoffs
// deterministically.
type Clock interface {
	NowUnix() int64
	Now() time.Time
}

// RealClock reads the OS wall clock.
type RealClock struct{}

func (RealClock) NowUnix() int64   { return time.Now().Unix() }
func (RealClock) Now() time.Time   { return time.Now() }

// FakeClock is a settable clock for deterministic tests of lease expiry,
// the recovery sweep cutoff, and freshness-guard races.
type FakeClock struct {
	unix atomic.Int64
}

// NewFakeClock returns a FakeClock initialized to t.
func NewFakeClock(t time.Time) *FakeClock {
	c := &FakeClock{}
	c.unix.Store(t.Unix())
	return c
}

func (c *FakeClock) NowUnix() int64 { return c.unix.Load() }
func (c *FakeClock) Now() time.Time { return time.Unix(c.unix.Load(), 0).UTC() }

// Advance moves the fake clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.unix.Add(int64(d.Seconds()))
}

// Set pins the fake clock to an absolute time.
func (c *FakeClock) Set(t time.Time) {
	c.unix.Store(t.Unix())
}

// sequence is a process-local monotonic counter mixed into generated
// identifiers so that two ids requested within the same clock second never
// collide, mirroring the nonce parameter idgen.GenerateHashID expects.
var sequence atomic.Int64

// NewEventID returns a short, collision-resistant identifier for an audit
// event correlation id or a backup id. It is not the database primary key
// (that is the store's own auto-increment column) — it is a human-shareable
// label safe to print in logs and JSON envelopes.
func NewEventID(prefix string, c Clock) string {
	nonce := int(sequence.Add(1))
	return idgen.GenerateHashID(prefix, "", "", "", c.Now(), 8, nonce)
}
