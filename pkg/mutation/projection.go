package mutation

import (
	"errors"

	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/models"
	"github.com/JordyChamba/feedsync/pkg/querycache"
)

// RecordPatch is a relative change to one record.
type RecordPatch struct {
	ID models.RecordID
	// Observed is the version the patch expects to find. Zero applies it
	// unconditionally.
	Observed uint64
	Patch    models.Patch
}

type ListOp uint8

const (
	ListInsert ListOp = iota + 1
	ListRemove
	ListReplace
)

func (op ListOp) String() string {
	switch op {
	case ListInsert:
		return "insert"
	case ListRemove:
		return "remove"
	case ListReplace:
		return "replace"
	}
	return "unknown"
}

// ListEdit changes the membership of cached lists.
//
// Insert adds ID to the head of every entry selected by Match. Remove drops
// ID from every selected entry holding it. Replace swaps ID for With.
//
// When Keys is non-nil it restricts the edit to those keys, and for inserts it
// holds the flattened position to insert at.
type ListEdit struct {
	Op    ListOp
	Match models.Matcher
	ID    models.RecordID
	With  models.RecordID
	Keys  map[models.QueryKey]int
}

func (e ListEdit) selects(key models.QueryKey) bool {
	if e.Keys != nil {
		_, ok := e.Keys[key]
		return ok
	}
	return e.Match != nil && e.Match(key)
}

// Projection is everything an optimistic mutation does to local state. The
// inverse of a projection is computed while it is applied, from what actually
// changed.
type Projection struct {
	Creates []models.Record
	Records []RecordPatch
	Lists   []ListEdit
	Deletes []models.RecordID
}

func (p Projection) IsZero() bool {
	return len(p.Creates) == 0 && len(p.Records) == 0 && len(p.Lists) == 0 && len(p.Deletes) == 0
}

// applyLocked applies p and returns its inverse. The inverse has exactly one
// list edit per list edit of p, at the same index.
func (c *Coordinator) applyLocked(p Projection) Projection {
	var inv Projection

	for _, r := range p.Creates {
		c.records.UpsertLocked(r)
		inv.Deletes = append(inv.Deletes, r.ID)
	}

	for _, rp := range p.Records {
		v, ok := c.patchLocked(rp)
		if !ok {
			continue
		}
		inv.Records = append(inv.Records, RecordPatch{ID: rp.ID, Observed: v, Patch: rp.Patch.Inverse()})
	}

	for _, e := range p.Lists {
		inv.Lists = append(inv.Lists, c.editLocked(e))
	}

	for _, id := range p.Deletes {
		r, ok := c.records.GetLocked(id)
		if !ok {
			continue
		}
		c.records.DeleteLocked(id)
		inv.Creates = append(inv.Creates, r)
	}

	return inv
}

// patchLocked applies rp relative to whatever the record holds now. A record
// that moved past rp.Observed gets the same relative patch on top of its
// current version.
func (c *Coordinator) patchLocked(rp RecordPatch) (uint64, bool) {
	v, err := c.records.ApplyPatchLocked(rp.ID, rp.Observed, rp.Patch.Apply)
	if errors.Is(err, constants.ErrStaleVersion) {
		c.logger.Debug("record moved on, reapplying relative patch", "id", rp.ID.String(), "error", err)
		v, err = c.records.ApplyPatchLocked(rp.ID, 0, rp.Patch.Apply)
	}
	if err != nil {
		panic("BUG: unconditional patch failed: " + err.Error())
	}
	return v, v != 0
}

func (c *Coordinator) editLocked(e ListEdit) ListEdit {
	switch e.Op {
	case ListInsert:
		inserted := map[models.QueryKey]int{}
		c.cache.MapEachEntryLocked(e.selects, models.RecordID{}, func(r *models.QueryResult) bool {
			pos := e.Keys[r.Key]
			if r.InsertAt(pos, e.ID) {
				inserted[r.Key] = pos
				return true
			}
			return false
		})
		return ListEdit{Op: ListRemove, ID: e.ID, Keys: inserted}

	case ListRemove:
		removed := map[models.QueryKey]int{}
		c.cache.MapEachEntryLocked(e.selects, e.ID, querycache.RemoveID(e.ID, removed))
		return ListEdit{Op: ListInsert, ID: e.ID, Keys: removed}

	case ListReplace:
		replaced := map[models.QueryKey]int{}
		c.cache.MapEachEntryLocked(e.selects, e.ID, func(r *models.QueryResult) bool {
			if r.Replace(e.ID, e.With) {
				replaced[r.Key] = 0
				return true
			}
			return false
		})
		return ListEdit{Op: ListReplace, ID: e.With, With: e.ID, Keys: replaced}
	}

	panic("BUG: unknown list op " + e.Op.String())
}

// relayListLocked re-runs forward edit e on a freshly loaded entry and widens
// inv so a later rollback also covers that entry.
func (c *Coordinator) relayListLocked(key models.QueryKey, e ListEdit, inv ListEdit) {
	if !e.selects(key) {
		return
	}
	only := func(k models.QueryKey) bool { return k == key }

	switch e.Op {
	case ListInsert:
		pos := e.Keys[key]
		c.cache.MapEachEntryLocked(only, models.RecordID{}, func(r *models.QueryResult) bool {
			if r.InsertAt(pos, e.ID) {
				inv.Keys[key] = pos
				return true
			}
			return false
		})
	case ListRemove:
		c.cache.MapEachEntryLocked(only, e.ID, querycache.RemoveID(e.ID, inv.Keys))
	case ListReplace:
		c.cache.MapEachEntryLocked(only, e.ID, func(r *models.QueryResult) bool {
			if r.Replace(e.ID, e.With) {
				inv.Keys[key] = 0
				return true
			}
			return false
		})
	}
}
