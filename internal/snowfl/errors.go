package snowfl

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenNotFound is returned in strict mode when the site script
	// contains no token.
	ErrTokenNotFound = errors.New("snowfl: token not found in site script")

	// ErrScriptNotFound indicates the front page has no versioned script.
	ErrScriptNotFound = errors.New("snowfl: versioned script not found on front page")
)

// StatusError is returned when the site answers with a non-200 status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("snowfl: GET %s: HTTP %d", e.URL, e.StatusCode)
}
