package realtime

import (
	"errors"
	"fmt"

	"github.com/JordyChamba/feedsync/pkg/constants"
)

// TransportError is a failure of the realtime connection: a failed dial, a
// lost socket or a protocol violation by the server. It never reaches
// callers of mutations; it shows up in state changes.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("realtime %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == constants.ErrTransport
}

// IsUnauthorized reports whether err means the credential was rejected, so
// retrying with it is pointless.
func IsUnauthorized(err error) bool {
	return errors.Is(err, constants.ErrUnauthorized)
}
