package action

import "fmt"

// Error is a violated business rule. The message is user visible; the
// server answers with 400 and the text verbatim.
type Error struct {
	msg string
}

func (e Error) Error() string {
	return e.msg
}

func errorf(format string, a ...any) Error {
	return Error{msg: fmt.Sprintf(format, a...)}
}

// SchemaError is a payload that does not match the action's schema. The
// server answers with 400.
type SchemaError struct {
	msg string
}

func (e SchemaError) Error() string {
	return e.msg
}

func schemaErrorf(format string, a ...any) SchemaError {
	return SchemaError{msg: fmt.Sprintf(format, a...)}
}

// NotAllowedError is a missing permission. The server answers with 403.
type NotAllowedError struct {
	msg string
}

func (e NotAllowedError) Error() string {
	return e.msg
}

// NotAllowedf builds a NotAllowedError. Exported for permission hooks
// outside this package.
func NotAllowedf(format string, a ...any) NotAllowedError {
	return NotAllowedError{msg: fmt.Sprintf(format, a...)}
}
