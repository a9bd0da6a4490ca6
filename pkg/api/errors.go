package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/JordyChamba/feedsync/pkg/constants"
)

// RemoteError is a failed backend call. StatusCode is zero when the request
// never got an answer, in which case Err holds the cause.
type RemoteError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is matches constants.ErrRemote for every remote error, and additionally
// constants.ErrUnauthorized and constants.ErrNotFound by status code.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case constants.ErrRemote:
		return true
	case constants.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case constants.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// StatusCode returns the HTTP status of err, or zero when err is not a
// RemoteError carrying one.
func StatusCode(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}
