package store

import (
	"fmt"

	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/models"
)

// StaleVersionError is returned by ApplyPatch when the record has been written
// since the caller read it.
type StaleVersionError struct {
	ID       models.RecordID
	Observed uint64
	Current  uint64
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("%s: observed version %d, current %d", e.ID, e.Observed, e.Current)
}

func (e *StaleVersionError) Is(target error) bool {
	return target == constants.ErrStaleVersion
}
