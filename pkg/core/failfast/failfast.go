// Package failfast turns programmer errors into panics.
//
// Runtime conditions (I/O errors, corruption, full buffers) are returned as
// errors. Misuse of an API, such as resolving the same acknowledgement twice,
// is reported through this package so that the bug surfaces at the call site.
package failfast

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Violation is the panic value raised for a broken API contract.
type Violation struct {
	Msg   string
	Err   error
	Stack []byte
}

func (v *Violation) Error() string {
	if v.Err != nil {
		return "fail-fast: " + v.Msg + ": " + v.Err.Error()
	}
	return "fail-fast: " + v.Msg
}

func (v *Violation) Unwrap() error { return v.Err }

// Err panics if err != nil.
func Err(err error) {
	if err != nil {
		panic(&Violation{Msg: "unexpected error", Err: err, Stack: debug.Stack()})
	}
}

// If panics if condition is false.
func If(condition bool, message string, args ...interface{}) {
	if !condition {
		panic(&Violation{Msg: fmt.Sprintf(message, args...), Stack: debug.Stack()})
	}
}

// Wrap panics with err as the cause, formatted with message.
func Wrap(err error, message string, args ...interface{}) {
	panic(&Violation{Msg: fmt.Sprintf(message, args...), Err: err, Stack: debug.Stack()})
}

// NotNil panics if ptr is nil.
func NotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(&Violation{Msg: name + " is nil", Stack: debug.Stack()})
	}
}

// Recover converts a Violation panic back into an error. Other panics are re-raised.
// Use as: defer failfast.Recover(&err)
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if v, ok := r.(*Violation); ok {
		*errp = v
		return
	}
	panic(r)
}

// IsViolation reports whether err is (or wraps) a Violation.
func IsViolation(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}
