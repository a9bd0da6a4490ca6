package mutation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/JordyChamba/feedsync/pkg/constants"
)

// NormalizeContent puts user text in NFC form and trims surrounding space, so
// the length check counts what the server will store.
func NormalizeContent(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// ValidateContent normalizes s and checks it holds 1..max characters.
func ValidateContent(what, s string, max int) (string, error) {
	s = NormalizeContent(s)
	n := utf8.RuneCountInString(s)
	switch {
	case n == 0:
		return "", fmt.Errorf("%w: %s must not be empty", constants.ErrValidation, what)
	case n > max:
		return "", fmt.Errorf("%w: %s is %d characters long, the limit is %d", constants.ErrValidation, what, n, max)
	}
	return s, nil
}
