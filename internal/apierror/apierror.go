package apierror

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	// ConflictingID is set on CONFLICT errors: the id of the record that
	// already exists on the destination for the same external id.
	ConflictingID string `json:"conflicting_id,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewConflictError builds the structured "already exists" error carrying the
// pre-existing record's id, so callers recover the id instead of matching on
// error text.
func NewConflictError(message, conflictingID string) APIError {
	return APIError{
		Code:          ErrConflict,
		Message:       message,
		ConflictingID: conflictingID,
	}
}

// ConflictID extracts the conflicting record id when err (or anything it
// wraps) is an "already exists" conflict.
func ConflictID(err error) (string, bool) {
	var apiErr APIError
	if errors.As(err, &apiErr) && apiErr.Code == ErrConflict {
		return apiErr.ConflictingID, true
	}
	return "", false
}

// IsNotFound reports whether err is a NOT_FOUND API error.
func IsNotFound(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Code == ErrNotFound
}

func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := err.(APIError); ok {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict:
			return http.StatusConflict
		case ErrInvalidInput:
			return http.StatusBadRequest
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
