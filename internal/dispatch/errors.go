package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a dispatch failure.
type Kind string

const (
	// KindConfig means a required setting (queue, callback base URL, auth
	// token) is missing. Never retried automatically.
	KindConfig Kind = "configuration"
	// KindClient means the queue client could not be built.
	KindClient Kind = "client"
	// KindRequest means the target path or payload could not be encoded.
	KindRequest Kind = "request"
	// KindEnqueue means the queue rejected the task or was unreachable.
	KindEnqueue Kind = "enqueue"
)

// Error is returned for every dispatch failure.
type Error struct {
	Kind    Kind
	Target  string
	Missing []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dispatch %s error", e.Kind)
	if e.Target != "" {
		fmt.Fprintf(&b, " for %s", e.Target)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind returns the kind as a string classification.
func (e *Error) ErrorKind() string {
	return string(e.Kind)
}

// IsKind reports whether err is a dispatch error of the given kind.
func IsKind(err error, kind Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
