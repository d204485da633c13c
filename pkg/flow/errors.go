package flow

import (
	"errors"
)

// classification errors returned by rule operations. callers test them with
// errors.Is; the returned error carries the specific cause in its message.
var (
	// ErrInvalidArgument indicates a malformed rule, pattern or action list
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnsupportedAttribute indicates an unsupported rule attribute
	ErrUnsupportedAttribute = errors.New("unsupported attribute")
	// ErrInvalidMatchField indicates an unsupported match field or mask
	ErrInvalidMatchField = errors.New("invalid match field")
	// ErrInvalidAction indicates an unsupported or conflicting action
	ErrInvalidAction = errors.New("invalid action")
	// ErrResourceExhausted indicates a filter, context or table pool ran out
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrConflict indicates the rule conflicts with already installed state
	ErrConflict = errors.New("conflicting rule")
	// ErrDuplicateRule indicates an identical rule is already installed
	ErrDuplicateRule = errors.New("duplicate rule")
	// ErrPermissionDenied indicates the operation is not allowed on this function
	ErrPermissionDenied = errors.New("permission denied")
	// ErrHardwareFailure indicates the device rejected or failed a command
	ErrHardwareFailure = errors.New("hardware failure")
	// ErrNotFound indicates the flow handle is unknown
	ErrNotFound = errors.New("flow not found")
)
