package model

import (
	"errors"
	"fmt"
)

// Code is a wire-visible error code.
type Code string

const (
	CodeInvalidTeamID        Code = "INVALID_TEAM_ID"
	CodeInvalidAgentID       Code = "INVALID_AGENT_ID"
	CodeInvalidTask          Code = "INVALID_TASK"
	CodeInvalidThreadMessage Code = "INVALID_THREAD_MESSAGE"
	CodeInvalidJSON          Code = "INVALID_JSON"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeLeaseExpired         Code = "LEASE_EXPIRED"
	CodeLeaseHolderMismatch  Code = "LEASE_HOLDER_MISMATCH"
	CodeTeamNotFound         Code = "TEAM_NOT_FOUND"
	CodeTaskNotFound         Code = "TASK_NOT_FOUND"
	CodeThreadNotFound       Code = "THREAD_NOT_FOUND"
	CodeNotFound             Code = "NOT_FOUND"
	CodeTaskNotClaimable     Code = "TASK_NOT_CLAIMABLE"
	CodeTaskNotInProgress    Code = "TASK_NOT_IN_PROGRESS"
	CodeEpochMismatch        Code = "EPOCH_MISMATCH"
	CodePathTraversal        Code = "PATH_TRAVERSAL"
	CodeSymlinkEscape        Code = "SYMLINK_ESCAPE"
	CodeInvalidLine          Code = "INVALID_LINE"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// Error is an operation failure with its HTTP mapping. The status is not
// serialized; the HTTP layer writes it as the response code.
type Error struct {
	Status  int    `json:"-"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Invalid builds a 400 error.
func Invalid(code Code, format string, args ...any) *Error {
	return &Error{Status: 400, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized builds a 401 error.
func Unauthorized(format string, args ...any) *Error {
	return &Error{Status: 401, Code: CodeUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// Forbidden builds a 403 error.
func Forbidden(code Code, format string, args ...any) *Error {
	return &Error{Status: 403, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a 404 error.
func NotFound(code Code, format string, args ...any) *Error {
	return &Error{Status: 404, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a 409 error.
func Conflict(code Code, format string, args ...any) *Error {
	return &Error{Status: 409, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Internal builds a 500 error.
func Internal(code Code, format string, args ...any) *Error {
	return &Error{Status: 500, Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError maps any error onto the wire type. Errors that are not already a
// *Error become 500 INTERNAL_ERROR with the original message.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(CodeInternal, "%v", err)
}
