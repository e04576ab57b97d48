package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrNetwork          = errors.New("network failure")
	ErrTimeout          = errors.New("backend timeout")
	ErrCancelled        = errors.New("cancelled")
	ErrInvalidSelection = errors.New("invalid source selection")
	ErrServerRejected   = errors.New("server rejected request")
	ErrDataConsistency  = errors.New("data consistency violation")
	ErrUnknown          = errors.New("unknown failure")
	ErrClosed           = errors.New("coordinator closed")
)

type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server rejected request: status=%d message=%s", e.Code, e.Message)
}

func (e *ServerError) Is(target error) bool {
	return target == ErrServerRejected
}

// DataConsistencyError reports a backend invariant violation, e.g. a variant
// referencing an image that is not in the product's image set. Non-fatal but
// logged loudly, since the backend is expected to uphold the invariant.
type DataConsistencyError struct {
	Detail string
}

func (e *DataConsistencyError) Error() string {
	return "data consistency violation: " + e.Detail
}

func (e *DataConsistencyError) Is(target error) bool {
	return target == ErrDataConsistency
}

// IsTransient reports whether the failure is worth re-triggering by the
// caller. The core itself never retries.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout)
}
