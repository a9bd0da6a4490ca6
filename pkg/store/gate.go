package store

import (
	"sync"
	"sync/atomic"
)

// Gate is the lock shared by the record store and the query cache.
//
// Writers that touch both stores run inside a single Atomic section, so a
// reader holding the read side never observes a record updated while the
// lists showing it are not, or the other way around.
//
// Listener callbacks queued with Defer run after the write lock is released,
// which lets listeners read back from either store.
type Gate struct {
	mu     sync.RWMutex
	queued []func()
}

func NewGate() *Gate {
	return &Gate{}
}

// Atomic runs fn with the write lock held and then delivers the notifications
// fn queued.
//
// fn must not call Atomic or Read on the same gate.
func (g *Gate) Atomic(fn func()) {
	g.mu.Lock()
	fn()
	queued := g.queued
	g.queued = nil
	g.mu.Unlock()

	for _, f := range queued {
		f()
	}
}

// Read runs fn with the read lock held.
func (g *Gate) Read(fn func()) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn()
}

// Defer queues f until the current Atomic section ends.
// It must only be called with the write lock held.
func (g *Gate) Defer(f func()) {
	g.queued = append(g.queued, f)
}

// Clock hands out strictly increasing record versions.
type Clock struct {
	seq atomic.Uint64
}

func NewClock() *Clock {
	return &Clock{}
}

func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

func (c *Clock) Current() uint64 {
	return c.seq.Load()
}
