package logging

import (
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// OperationError tags a failure with the operation that produced it, the
// scan session it belongs to and, for retried calls, how many attempts ran.
type OperationError struct {
	Operation string
	SessionID string
	Attempts  int
	Err       error
}

// Error renders "operation [session=ID attempts=N]: cause", omitting
// empty tags.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var tags []string
	if e.SessionID != "" {
		tags = append(tags, "session="+e.SessionID)
	}
	if e.Attempts > 1 {
		tags = append(tags, "attempts="+strconv.Itoa(e.Attempts))
	}
	var b strings.Builder
	b.WriteString(e.Operation)
	if len(tags) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(tags, " "))
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fields returns the metadata as log fields. The cause is logged under
// "error".
func (e *OperationError) Fields() []zap.Field {
	if e == nil {
		return nil
	}
	fields := []zap.Field{zap.String("operation", e.Operation)}
	if e.SessionID != "" {
		fields = append(fields, zap.String("session_id", e.SessionID))
	}
	if e.Attempts > 0 {
		fields = append(fields, zap.Int("attempts", e.Attempts))
	}
	return append(fields, zap.NamedError("error", e.Err))
}

// NewOperationError wraps err with its operation and session. A nil err
// stays nil.
func NewOperationError(operation, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, SessionID: sessionID, Err: err}
}

// RetriedOperationError is NewOperationError for a call that ran attempts
// times before giving up.
func RetriedOperationError(operation, sessionID string, attempts int, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, SessionID: sessionID, Attempts: attempts, Err: err}
}

// OperationOf returns the operation of the outermost OperationError in err's
// chain.
func OperationOf(err error) (string, bool) {
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		return "", false
	}
	return opErr.Operation, true
}

// ErrorFields returns log fields for err, expanding an OperationError into
// its metadata.
func ErrorFields(err error) []zap.Field {
	var opErr *OperationError
	if errors.As(err, &opErr) && opErr.Err != nil {
		fields := opErr.Fields()
		if opErr != err {
			// err wraps the OperationError; keep the full message.
			fields[len(fields)-1] = zap.Error(err)
		}
		return fields
	}
	return []zap.Field{zap.Error(err)}
}
