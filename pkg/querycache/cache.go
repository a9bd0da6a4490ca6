package querycache

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JordyChamba/feedsync/pkg/logger"
	"github.com/JordyChamba/feedsync/pkg/models"
	"github.com/JordyChamba/feedsync/pkg/store"
)

// Loaded is one page as returned by the backend. Records are upserted into
// the record store and their ids, in order, become the page. Related records
// are upserted but not listed. Stubs are partial records, such as authors
// embedded in posts without their counters, and only fill in ids the store
// does not hold yet.
type Loaded struct {
	Records   []models.Record
	Related   []models.Record
	Stubs     []models.Record
	Exhausted bool
}

// Loader fetches page pageIndex of the list described by key.
type Loader interface {
	Load(ctx context.Context, key models.QueryKey, pageIndex int) (Loaded, error)
}

type LoaderFunc func(ctx context.Context, key models.QueryKey, pageIndex int) (Loaded, error)

func (f LoaderFunc) Load(ctx context.Context, key models.QueryKey, pageIndex int) (Loaded, error) {
	return f(ctx, key, pageIndex)
}

// Reconciler is called inside the gate right after a loaded page replaced
// server state, so that still pending local projections can be laid back on
// top of it. upserted holds the related and the listed records of the page.
// Stubs are left out since they never overwrite a stored record.
type Reconciler interface {
	ReconcileLocked(key models.QueryKey, upserted []models.RecordID)
}

// Transform edits one cached entry in place and reports whether it changed.
type Transform func(*models.QueryResult) bool

type Event struct {
	Key         models.QueryKey
	Invalidated bool
	Removed     bool
}

type Listener func(Event)

// Cache maps query keys to ordered pages of record ids.
//
// It shares its gate with the record store: every write goes through
// Gate.Atomic, so MapEachEntry over any number of keys is observed by readers
// as a single step.
type Cache struct {
	gate    *store.Gate
	records *store.RecordStore
	loader  Loader

	entries map[models.QueryKey]*models.QueryResult

	reconcilerMu sync.Mutex
	reconciler   Reconciler

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int

	logger logger.Logger
}

type Option func(*Cache)

func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

func WithLoader(l Loader) Option {
	return func(c *Cache) {
		c.loader = l
	}
}

func New(records *store.RecordStore, opts ...Option) *Cache {
	c := &Cache{
		gate:      records.Gate(),
		records:   records,
		entries:   make(map[models.QueryKey]*models.QueryResult),
		listeners: make(map[int]Listener),
		logger:    logger.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetReconciler installs r. The mutation coordinator registers itself here
// when it is constructed.
func (c *Cache) SetReconciler(r Reconciler) {
	c.reconcilerMu.Lock()
	defer c.reconcilerMu.Unlock()
	c.reconciler = r
}

// Get returns a copy of the entry for key. Stale entries are reported as
// missing so the caller refetches instead of showing them.
func (c *Cache) Get(key models.QueryKey) (models.QueryResult, bool) {
	var (
		res models.QueryResult
		ok  bool
	)
	c.gate.Read(func() {
		res, ok = c.GetLocked(key)
	})
	if !ok || res.Stale {
		return models.QueryResult{}, false
	}
	return res, true
}

// Peek returns the entry for key even when it is stale.
func (c *Cache) Peek(key models.QueryKey) (models.QueryResult, bool) {
	var (
		res models.QueryResult
		ok  bool
	)
	c.gate.Read(func() {
		res, ok = c.GetLocked(key)
	})
	return res, ok
}

func (c *Cache) GetLocked(key models.QueryKey) (models.QueryResult, bool) {
	e, ok := c.entries[key]
	if !ok {
		return models.QueryResult{}, false
	}
	return e.Clone(), true
}

// Keys lists the cached keys matching m.
func (c *Cache) Keys(m models.Matcher) []models.QueryKey {
	var keys []models.QueryKey
	c.gate.Read(func() {
		for k := range c.entries {
			if m(k) {
				keys = append(keys, k)
			}
		}
	})
	slices.SortFunc(keys, func(a, b models.QueryKey) int {
		return cmp.Or(
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.Subject, b.Subject),
			cmp.Compare(a.Term, b.Term),
		)
	})
	return keys
}

// Put stores page under key. With append the page is added after the pages
// already cached, skipping ids the entry already holds; otherwise the entry
// is replaced by this single page and is no longer stale.
func (c *Cache) Put(key models.QueryKey, page models.Page, appendPage bool) {
	c.gate.Atomic(func() {
		c.PutLocked(key, page, appendPage, false)
	})
}

func (c *Cache) PutLocked(key models.QueryKey, page models.Page, appendPage, exhausted bool) {
	ids := make([]models.RecordID, 0, len(page.RecordIDs))
	e, ok := c.entries[key]
	if !ok || !appendPage {
		e = &models.QueryResult{Key: key}
	}
	for _, id := range page.RecordIDs {
		if e.Contains(id) || slices.Contains(ids, id) {
			continue
		}
		ids = append(ids, id)
	}

	e.Pages = append(e.Pages, models.Page{RecordIDs: ids, PageIndex: page.PageIndex})
	e.Cursor = page.PageIndex + 1
	e.Exhausted = exhausted
	e.Stale = false
	c.entries[key] = e

	c.queue(Event{Key: key})
}

// Invalidate marks every entry matching m stale and returns how many it marked.
func (c *Cache) Invalidate(m models.Matcher) int {
	var n int
	c.gate.Atomic(func() {
		n = c.InvalidateLocked(m)
	})
	return n
}

func (c *Cache) InvalidateLocked(m models.Matcher) int {
	n := 0
	for k, e := range c.entries {
		if !m(k) {
			continue
		}
		e.Stale = true
		n++
		c.queue(Event{Key: k, Invalidated: true})
	}
	return n
}

// Remove drops every entry matching m.
func (c *Cache) Remove(m models.Matcher) int {
	n := 0
	c.gate.Atomic(func() {
		for k := range c.entries {
			if m(k) {
				delete(c.entries, k)
				n++
				c.queue(Event{Key: k, Removed: true})
			}
		}
	})
	return n
}

// MapEachEntry runs transform on every entry matching m. When recordID is
// non-zero only entries that currently contain it are visited. It returns the
// number of entries transform changed.
func (c *Cache) MapEachEntry(m models.Matcher, recordID models.RecordID, transform Transform) int {
	var n int
	c.gate.Atomic(func() {
		n = c.MapEachEntryLocked(m, recordID, transform)
	})
	return n
}

func (c *Cache) MapEachEntryLocked(m models.Matcher, recordID models.RecordID, transform Transform) int {
	n := 0
	for k, e := range c.entries {
		if !m(k) {
			continue
		}
		if !recordID.IsZero() && !e.Contains(recordID) {
			continue
		}
		if transform(e) {
			n++
			c.queue(Event{Key: k})
		}
	}
	return n
}

// Fetch returns the entry for key, loading its first page when the entry is
// missing or stale.
func (c *Cache) Fetch(ctx context.Context, key models.QueryKey) (models.QueryResult, error) {
	if res, ok := c.Get(key); ok {
		return res, nil
	}
	return c.load(ctx, key, 0, false)
}

// Refresh reloads the first page of key regardless of what is cached.
func (c *Cache) Refresh(ctx context.Context, key models.QueryKey) (models.QueryResult, error) {
	return c.load(ctx, key, 0, false)
}

// FetchNext loads the page after the last cached one and appends it. It is a
// no-op once the list is exhausted.
func (c *Cache) FetchNext(ctx context.Context, key models.QueryKey) (models.QueryResult, error) {
	res, ok := c.Get(key)
	if !ok {
		return c.Fetch(ctx, key)
	}
	if res.Exhausted {
		return res, nil
	}
	return c.load(ctx, key, res.Cursor, true)
}

func (c *Cache) load(ctx context.Context, key models.QueryKey, pageIndex int, appendPage bool) (models.QueryResult, error) {
	if c.loader == nil {
		return models.QueryResult{}, fmt.Errorf("querycache: no loader configured for %s", key)
	}

	c.logger.Debug("loading query page", "key", key.String(), "page", pageIndex)

	loaded, err := c.loader.Load(ctx, key, pageIndex)
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("failed to load %s page %d: %w", key, pageIndex, err)
	}

	c.reconcilerMu.Lock()
	reconciler := c.reconciler
	c.reconcilerMu.Unlock()

	var res models.QueryResult
	c.gate.Atomic(func() {
		upserted := make([]models.RecordID, 0, len(loaded.Related)+len(loaded.Records))
		for _, r := range loaded.Related {
			c.records.UpsertLocked(r)
			upserted = append(upserted, r.ID)
		}
		for _, r := range loaded.Stubs {
			if _, ok := c.records.GetLocked(r.ID); !ok {
				c.records.UpsertLocked(r)
			}
		}
		ids := make([]models.RecordID, 0, len(loaded.Records))
		for _, r := range loaded.Records {
			c.records.UpsertLocked(r)
			ids = append(ids, r.ID)
		}
		c.PutLocked(key, models.Page{RecordIDs: ids, PageIndex: pageIndex}, appendPage, loaded.Exhausted)

		if reconciler != nil {
			reconciler.ReconcileLocked(key, append(upserted, ids...))
		}
		res, _ = c.GetLocked(key)
	})

	return res, nil
}

// Subscribe registers l for changes to any entry.
func (c *Cache) Subscribe(l Listener) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l

	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Cache) queue(ev Event) {
	c.gate.Defer(func() {
		c.listenersMu.Lock()
		ls := make([]Listener, 0, len(c.listeners))
		for _, l := range c.listeners {
			ls = append(ls, l)
		}
		c.listenersMu.Unlock()

		for _, l := range ls {
			l(ev)
		}
	})
}
