// Package arbiter owns the bot's single movement/manipulation actuator.
//
// At most one lease is live at any instant. Acquiring for a different holder
// revokes the current lease (closing its Done channel, which cancels any
// navigation it still has pending) unless the current holder outranks the
// caller, in which case ErrBusy is returned. All requests that reach the world
// go through an Actuator, which checks the lease immediately before dispatch.
package arbiter

import (
	"errors"
	"log"
	"sync"
	"time"
)

var (
	// ErrBusy means a higher priority holder owns the actuator.
	ErrBusy = errors.New("arbiter: actuator busy")
	// ErrLeaseLost means the caller no longer holds the lease; the request was dropped.
	ErrLeaseLost = errors.New("arbiter: lease lost")
)

type Priority int

const (
	PriorityBackground Priority = iota + 1 // follow, auto
	PriorityCommand                        // one-shot chores
	PriorityDefend
)

type Holder struct {
	ID       string
	Priority Priority
}

type Lease struct {
	HolderID   string
	Priority   Priority
	AcquiredAt time.Time

	done chan struct{}
	once sync.Once
}

// Done is closed when the lease is revoked or released.
func (l *Lease) Done() <-chan struct{} { return l.done }

func (l *Lease) Revoked() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *Lease) end() { l.once.Do(func() { close(l.done) }) }

type Stats struct {
	Grants  uint64
	Revokes uint64
	Busy    uint64
}

type Arbiter struct {
	log *log.Logger
	now func() time.Time

	mu    sync.Mutex
	cur   *Lease
	stats Stats
}

func New(logger *log.Logger) *Arbiter {
	return &Arbiter{log: logger, now: time.Now}
}

// Acquire grants the lease to h. Re-acquiring by the current holder is a no-op
// that returns the live lease.
func (a *Arbiter) Acquire(h Holder) (*Lease, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cur != nil {
		if a.cur.HolderID == h.ID {
			return a.cur, nil
		}
		if a.cur.Priority > h.Priority {
			a.stats.Busy++
			return nil, ErrBusy
		}
		a.logf("lease %s revoked by %s", a.cur.HolderID, h.ID)
		a.cur.end()
		a.stats.Revokes++
	}
	a.cur = &Lease{
		HolderID:   h.ID,
		Priority:   h.Priority,
		AcquiredAt: a.now(),
		done:       make(chan struct{}),
	}
	a.stats.Grants++
	return a.cur, nil
}

// Release drops the lease if holderID still owns it.
func (a *Arbiter) Release(holderID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil || a.cur.HolderID != holderID {
		return false
	}
	a.cur.end()
	a.cur = nil
	return true
}

func (a *Arbiter) IsHeldBy(holderID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur != nil && a.cur.HolderID == holderID
}

// Holder returns the id of the current lease holder, or "".
func (a *Arbiter) Holder() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil {
		return ""
	}
	return a.cur.HolderID
}

// Clear revokes whatever lease is live. Used by stop-all.
func (a *Arbiter) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil {
		return
	}
	a.logf("lease %s cleared", a.cur.HolderID)
	a.cur.end()
	a.cur = nil
	a.stats.Revokes++
}

func (a *Arbiter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Arbiter) lease(holderID string) *Lease {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil || a.cur.HolderID != holderID {
		return nil
	}
	return a.cur
}

func (a *Arbiter) logf(format string, args ...any) {
	if a.log != nil {
		a.log.Printf(format, args...)
	}
}
