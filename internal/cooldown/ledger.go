// Package cooldown tracks the last admitted request per requester and decides
// whether a new request may proceed.
package cooldown

import (
	"math"
	"sync"
	"time"
)

const (
	// EvictionWindow is how long an idle entry is kept. It is far larger than
	// any sensible cooldown, so eviction never changes an admission decision.
	EvictionWindow = time.Hour
	// SweepEvery is the period of the eviction sweep.
	SweepEvery = 30 * time.Minute
)

// Decision is the result of Admit.
type Decision struct {
	Allowed bool
	// Remaining is the whole number of seconds left (rounded up) when denied.
	Remaining int
}

// Ledger is safe for concurrent use. The zero value is not usable; use New.
type Ledger struct {
	cooldown time.Duration

	mu       sync.Mutex
	lastUsed map[int64]time.Time
}

func New(cooldown time.Duration) *Ledger {
	if cooldown < 0 {
		cooldown = 0
	}
	return &Ledger{cooldown: cooldown, lastUsed: map[int64]time.Time{}}
}

func (l *Ledger) Cooldown() time.Duration { return l.cooldown }

// Admit checks the requester's cooldown and, when allowed, records now as the
// last use. Check and update happen under one lock acquisition.
func (l *Ledger) Admit(requesterID int64, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.lastUsed[requesterID]; ok {
		elapsed := now.Sub(last)
		if elapsed < l.cooldown {
			return Decision{Remaining: remainingSeconds(l.cooldown - elapsed)}
		}
	}
	l.lastUsed[requesterID] = now
	return Decision{Allowed: true}
}

func remainingSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// Evict drops entries idle for longer than EvictionWindow and returns how many were removed.
func (l *Ledger) Evict(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, last := range l.lastUsed {
		if now.Sub(last) > EvictionWindow {
			delete(l.lastUsed, id)
			n++
		}
	}
	return n
}

// Len reports the number of tracked requesters.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lastUsed)
}
