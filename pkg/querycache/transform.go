package querycache

import "github.com/JordyChamba/feedsync/pkg/models"

// Prepend inserts id at the head of an entry.
func Prepend(id models.RecordID) Transform {
	return func(r *models.QueryResult) bool {
		return r.Prepend(id)
	}
}

// InsertAt inserts id at a flattened position of an entry.
func InsertAt(pos int, id models.RecordID) Transform {
	return func(r *models.QueryResult) bool {
		return r.InsertAt(pos, id)
	}
}

// RemoveID drops id from an entry. When removed is non-nil the position id
// held in each entry is recorded there.
func RemoveID(id models.RecordID, removed map[models.QueryKey]int) Transform {
	return func(r *models.QueryResult) bool {
		pos, ok := r.Remove(id)
		if ok && removed != nil {
			removed[r.Key] = pos
		}
		return ok
	}
}

// ReplaceID swaps old for replacement.
func ReplaceID(old, replacement models.RecordID) Transform {
	return func(r *models.QueryResult) bool {
		return r.Replace(old, replacement)
	}
}
