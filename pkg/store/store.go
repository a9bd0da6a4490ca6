package store

import (
	"sync"

	"github.com/JordyChamba/feedsync/pkg/logger"
	"github.com/JordyChamba/feedsync/pkg/models"
)

// PatchFunc returns the new payload for a record. It receives a copy and must
// not retain it.
type PatchFunc func(models.Fields) models.Fields

// Change describes one write to the record store.
type Change struct {
	ID      models.RecordID
	Version uint64
	Deleted bool
}

type Listener func(Change)

// RecordStore is the in-memory table of posts, comments and profile summaries.
//
// Every write stamps the record with the next value of a store-wide clock, so a
// record's version grows on every local or remote write to it.
//
// The plain methods take the gate themselves. The ...Locked variants expect
// the caller to be inside Gate.Atomic (or Gate.Read for GetLocked) and are used
// to compose writes across the record store and the query cache.
type RecordStore struct {
	gate    *Gate
	clock   *Clock
	records map[models.RecordID]models.Record

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int

	logger logger.Logger
}

type Option func(*RecordStore)

func WithLogger(l logger.Logger) Option {
	return func(s *RecordStore) {
		s.logger = l
	}
}

func WithClock(c *Clock) Option {
	return func(s *RecordStore) {
		s.clock = c
	}
}

func New(gate *Gate, opts ...Option) *RecordStore {
	s := &RecordStore{
		gate:      gate,
		clock:     NewClock(),
		records:   make(map[models.RecordID]models.Record),
		listeners: make(map[int]Listener),
		logger:    logger.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RecordStore) Gate() *Gate {
	return s.gate
}

// Upsert stores r as the authoritative state of r.ID and returns its new
// version. The version carried by r is ignored.
func (s *RecordStore) Upsert(r models.Record) uint64 {
	var v uint64
	s.gate.Atomic(func() {
		v = s.UpsertLocked(r)
	})
	return v
}

func (s *RecordStore) UpsertLocked(r models.Record) uint64 {
	if r.Fields == nil {
		panic("BUG: store: upsert of record without fields")
	}
	if r.ID.Kind == models.KindUnknown {
		r.ID.Kind = r.Fields.Kind()
	}

	r = r.Clone()
	r.Version = s.clock.Next()
	s.records[r.ID] = r

	s.logger.Debug("record upserted", "id", r.ID.String(), "version", r.Version)
	s.queue(Change{ID: r.ID, Version: r.Version})

	return r.Version
}

// Get returns a copy of the record.
func (s *RecordStore) Get(id models.RecordID) (models.Record, bool) {
	var (
		r  models.Record
		ok bool
	)
	s.gate.Read(func() {
		r, ok = s.GetLocked(id)
	})
	return r, ok
}

func (s *RecordStore) GetLocked(id models.RecordID) (models.Record, bool) {
	r, ok := s.records[id]
	if !ok {
		return models.Record{}, false
	}
	return r.Clone(), true
}

// Version returns the current version of id, or 0 when it is unknown.
func (s *RecordStore) Version(id models.RecordID) uint64 {
	var v uint64
	s.gate.Read(func() {
		v = s.records[id].Version
	})
	return v
}

// ApplyPatch replaces the payload of id with fn's result.
//
// observed is the version the caller based fn on. When the record has been
// written since, the patch is rejected with a *StaleVersionError. An observed
// version of 0 applies the patch unconditionally.
//
// Patching an id that is not in the store is a successful no-op returning 0.
func (s *RecordStore) ApplyPatch(id models.RecordID, observed uint64, fn PatchFunc) (uint64, error) {
	var (
		v   uint64
		err error
	)
	s.gate.Atomic(func() {
		v, err = s.ApplyPatchLocked(id, observed, fn)
	})
	return v, err
}

func (s *RecordStore) ApplyPatchLocked(id models.RecordID, observed uint64, fn PatchFunc) (uint64, error) {
	r, ok := s.records[id]
	if !ok {
		return 0, nil
	}
	if observed != 0 && r.Version > observed {
		return 0, &StaleVersionError{ID: id, Observed: observed, Current: r.Version}
	}

	next := fn(r.Fields.Clone())
	if next == nil {
		panic("BUG: store: patch function returned nil fields for " + id.String())
	}

	r.Fields = next
	r.Version = s.clock.Next()
	s.records[id] = r

	s.queue(Change{ID: id, Version: r.Version})

	return r.Version, nil
}

// Delete removes id and reports whether it was present.
func (s *RecordStore) Delete(id models.RecordID) bool {
	var ok bool
	s.gate.Atomic(func() {
		ok = s.DeleteLocked(id)
	})
	return ok
}

func (s *RecordStore) DeleteLocked(id models.RecordID) bool {
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	s.queue(Change{ID: id, Version: s.clock.Next(), Deleted: true})
	return true
}

func (s *RecordStore) Len() int {
	var n int
	s.gate.Read(func() {
		n = len(s.records)
	})
	return n
}

// Subscribe registers l for every committed write. The returned function
// removes the registration.
func (s *RecordStore) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *RecordStore) queue(ch Change) {
	s.gate.Defer(func() {
		s.notify(ch)
	})
}

func (s *RecordStore) notify(ch Change) {
	s.listenersMu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.listenersMu.Unlock()

	for _, l := range ls {
		l(ch)
	}
}
