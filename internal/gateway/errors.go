package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anonto42/nano-midea/livefeed/internal/repositories"
	"github.com/go-playground/validator/v10"
)

var (
	ErrNoViewer     = errors.New("no viewer signed in")
	ErrNotAuthor    = errors.New("viewer is not the author")
	ErrUnknownPost  = errors.New("unknown post")
	ErrUnknownReply = errors.New("unknown reply")
	ErrClosed       = errors.New("gateway closed")
)

// ValidationError rejects a mutation before anything is applied.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "request", Message: err.Error()}
	}

	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: field, Message: "must not be empty"}
	case "min":
		return &ValidationError{Field: field, Message: "must be at least " + fe.Param() + " characters"}
	case "max":
		return &ValidationError{Field: field, Message: "must be at most " + fe.Param() + " characters"}
	case "url":
		return &ValidationError{Field: field, Message: "must be a URL"}
	default:
		return &ValidationError{Field: field, Message: "failed " + fe.Tag()}
	}
}

// RemoteError reports a failed remote commit. The optimistic change has been rolled back
// by the time it is delivered.
type RemoteError struct {
	Op        Op
	Retryable bool
	// Partial is set when the first of two writes succeeded and the second failed.
	Partial bool
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Partial {
		return fmt.Sprintf("%s partially failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func remoteError(op Op, err error, partial bool) error {
	return &RemoteError{
		Op:        op,
		Retryable: repositories.IsTransient(err),
		Partial:   partial,
		Err:       err,
	}
}

// IsRetryable reports whether err is a remote failure worth retrying.
func IsRetryable(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Retryable
}
