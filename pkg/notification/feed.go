package notification

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/JordyChamba/feedsync/pkg/logger"
	"github.com/JordyChamba/feedsync/pkg/models"
	"github.com/JordyChamba/feedsync/pkg/store"
)

type Op int

const (
	OpIngest Op = iota
	OpRead
	OpUnread
	OpDelete
	OpLoad
	OpClear
)

func (o Op) String() string {
	switch o {
	case OpIngest:
		return "ingest"
	case OpRead:
		return "read"
	case OpUnread:
		return "unread"
	case OpDelete:
		return "delete"
	case OpLoad:
		return "load"
	case OpClear:
		return "clear"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Change is passed to listeners after every write that modified the feed.
// ID is zero for OpLoad and OpClear.
type Change struct {
	Op     Op
	ID     int64
	Unread int
}

type Listener func(Change)

// Feed is the ordered, deduplicated log of notification events, newest first.
//
// The unread counter always equals the number of events with IsRead unset;
// Verify re-derives it.
type Feed struct {
	mu     sync.Mutex
	events *list.List
	index  map[int64]*list.Element
	unread int

	records *store.RecordStore

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int

	logger logger.Logger
}

type Option func(*Feed)

func WithLogger(l logger.Logger) Option {
	return func(f *Feed) {
		f.logger = l
	}
}

// WithRecords makes the feed store the sender summary of every new event in
// the record store when the profile is not there yet.
func WithRecords(rs *store.RecordStore) Option {
	return func(f *Feed) {
		f.records = rs
	}
}

func New(opts ...Option) *Feed {
	f := &Feed{
		events:    list.New(),
		index:     make(map[int64]*list.Element),
		listeners: make(map[int]Listener),
		logger:    logger.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Ingest inserts e at the head of the feed unless an event with the same id is
// already present. It reports whether e was inserted.
func (f *Feed) Ingest(e models.NotificationEvent) bool {
	f.mu.Lock()
	if _, ok := f.index[e.ID]; ok {
		f.mu.Unlock()
		f.logger.Debug("notification: duplicate event dropped", "id", e.ID)
		return false
	}
	f.index[e.ID] = f.events.PushFront(clone(e))
	if !e.IsRead {
		f.unread++
	}
	unread := f.unread
	f.mu.Unlock()

	f.storeSenders(e)
	f.notify(Change{Op: OpIngest, ID: e.ID, Unread: unread})
	return true
}

// MarkRead marks the event read. It reports false when the event is unknown
// or was already read, in which case the counter is left alone.
func (f *Feed) MarkRead(id int64) bool {
	return f.setRead(id, true)
}

// MarkUnread reverts a local MarkRead.
func (f *Feed) MarkUnread(id int64) bool {
	return f.setRead(id, false)
}

func (f *Feed) setRead(id int64, read bool) bool {
	f.mu.Lock()
	el, ok := f.index[id]
	if !ok || el.Value.(*models.NotificationEvent).IsRead == read {
		f.mu.Unlock()
		return false
	}
	el.Value.(*models.NotificationEvent).IsRead = read
	if read {
		f.unread = max(0, f.unread-1)
	} else {
		f.unread++
	}
	unread := f.unread
	f.mu.Unlock()

	op := OpRead
	if !read {
		op = OpUnread
	}
	f.notify(Change{Op: op, ID: id, Unread: unread})
	return true
}

// MarkAllRead marks every event read and returns the ids that changed.
func (f *Feed) MarkAllRead() []int64 {
	f.mu.Lock()
	var ids []int64
	for el := f.events.Front(); el != nil; el = el.Next() {
		e := el.Value.(*models.NotificationEvent)
		if !e.IsRead {
			e.IsRead = true
			ids = append(ids, e.ID)
		}
	}
	f.unread = 0
	f.mu.Unlock()

	for _, id := range ids {
		f.notify(Change{Op: OpRead, ID: id})
	}
	return ids
}

// Delete removes the event and returns it.
func (f *Feed) Delete(id int64) (models.NotificationEvent, bool) {
	f.mu.Lock()
	el, ok := f.index[id]
	if !ok {
		f.mu.Unlock()
		return models.NotificationEvent{}, false
	}
	e := f.events.Remove(el).(*models.NotificationEvent)
	delete(f.index, id)
	if !e.IsRead {
		f.unread = max(0, f.unread-1)
	}
	unread := f.unread
	f.mu.Unlock()

	f.notify(Change{Op: OpDelete, ID: id, Unread: unread})
	return *e, true
}

// Restore puts back an event removed by Delete, at the position its
// timestamp gives it.
func (f *Feed) Restore(e models.NotificationEvent) bool {
	f.mu.Lock()
	if _, ok := f.index[e.ID]; ok {
		f.mu.Unlock()
		return false
	}
	mark := f.events.Front()
	for mark != nil && !mark.Value.(*models.NotificationEvent).CreatedAt.Before(e.CreatedAt) {
		mark = mark.Next()
	}
	if mark == nil {
		f.index[e.ID] = f.events.PushBack(clone(e))
	} else {
		f.index[e.ID] = f.events.InsertBefore(clone(e), mark)
	}
	if !e.IsRead {
		f.unread++
	}
	unread := f.unread
	f.mu.Unlock()

	f.notify(Change{Op: OpIngest, ID: e.ID, Unread: unread})
	return true
}

// BulkLoad merges a fetched page into the feed. Unknown events are merged by
// CreatedAt, newest first; the order of both the feed and the page is kept
// for equal timestamps. For known events a fetched read state may mark the
// local entry read, but a local read is never reverted by a fetch.
func (f *Feed) BulkLoad(page []models.NotificationEvent) int {
	f.mu.Lock()

	var fresh []*models.NotificationEvent
	seen := make(map[int64]struct{}, len(page))
	for i := range page {
		e := page[i]
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}

		if el, ok := f.index[e.ID]; ok {
			local := el.Value.(*models.NotificationEvent)
			if e.IsRead && !local.IsRead {
				local.IsRead = true
				f.unread = max(0, f.unread-1)
			}
			continue
		}
		fresh = append(fresh, clone(e))
	}

	el := f.events.Front()
	for _, e := range fresh {
		for el != nil && !el.Value.(*models.NotificationEvent).CreatedAt.Before(e.CreatedAt) {
			el = el.Next()
		}
		if el == nil {
			f.index[e.ID] = f.events.PushBack(e)
		} else {
			f.index[e.ID] = f.events.InsertBefore(e, el)
		}
		if !e.IsRead {
			f.unread++
		}
	}
	unread := f.unread
	f.mu.Unlock()

	for _, e := range fresh {
		f.storeSenders(*e)
	}
	f.notify(Change{Op: OpLoad, Unread: unread})
	return len(fresh)
}

// Clear drops every event and returns them, newest first.
func (f *Feed) Clear() []models.NotificationEvent {
	f.mu.Lock()
	out := make([]models.NotificationEvent, 0, f.events.Len())
	for el := f.events.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*models.NotificationEvent))
	}
	f.events.Init()
	clear(f.index)
	f.unread = 0
	f.mu.Unlock()

	f.notify(Change{Op: OpClear})
	return out
}

func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events.Len()
}

// Get returns a copy of the event.
func (f *Feed) Get(id int64) (models.NotificationEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.index[id]
	if !ok {
		return models.NotificationEvent{}, false
	}
	return *clone(*el.Value.(*models.NotificationEvent)), true
}

// Events returns a copy of the feed, newest first.
func (f *Feed) Events() []models.NotificationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.NotificationEvent, 0, f.events.Len())
	for el := f.events.Front(); el != nil; el = el.Next() {
		out = append(out, *clone(*el.Value.(*models.NotificationEvent)))
	}
	return out
}

// Verify recounts the unread events and checks the counter and the id index
// against the log.
func (f *Feed) Verify() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for el := f.events.Front(); el != nil; el = el.Next() {
		e := el.Value.(*models.NotificationEvent)
		if f.index[e.ID] != el {
			return fmt.Errorf("notification %d is not indexed", e.ID)
		}
		if !e.IsRead {
			n++
		}
	}
	if len(f.index) != f.events.Len() {
		return fmt.Errorf("index holds %d ids for %d events", len(f.index), f.events.Len())
	}
	if n != f.unread {
		return fmt.Errorf("unread counter is %d, %d events are unread", f.unread, n)
	}
	return nil
}

// Subscribe registers l for every change. The returned function removes the
// registration.
func (f *Feed) Subscribe(l Listener) func() {
	f.listenersMu.Lock()
	defer f.listenersMu.Unlock()

	id := f.nextListener
	f.nextListener++
	f.listeners[id] = l

	return func() {
		f.listenersMu.Lock()
		defer f.listenersMu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *Feed) notify(ch Change) {
	f.listenersMu.Lock()
	ls := make([]Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.listenersMu.Unlock()

	for _, l := range ls {
		l(ch)
	}
}

func (f *Feed) storeSenders(e models.NotificationEvent) {
	if f.records == nil || e.Sender == nil || e.Sender.ID == 0 {
		return
	}
	// a sender summary is thinner than a fetched profile, so it only fills gaps
	id := models.ProfileID(e.Sender.ID)
	f.records.Gate().Atomic(func() {
		if _, ok := f.records.GetLocked(id); !ok {
			f.records.UpsertLocked(models.NewRecord(e.Sender.ID, e.Sender))
		}
	})
}

func clone(e models.NotificationEvent) *models.NotificationEvent {
	if e.Sender != nil {
		s := *e.Sender
		e.Sender = &s
	}
	return &e
}
