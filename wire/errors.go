package wire

import (
	"errors"
	"fmt"
)

// Error is a protocol error, either produced locally or decoded from a
// failure response. A failure response carries a chain of errors which is
// linked through Next.
type Error struct {
	Code    string
	Message string
	File    string
	Line    int
	Next    *Error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Next != nil {
		msg += ": " + e.Next.Error()
	}
	return msg
}

// Unwrap returns the next error of a decoded failure chain.
func (e *Error) Unwrap() error {
	if e == nil || e.Next == nil {
		return nil
	}
	return e.Next
}

// Is matches by code when the target has one, otherwise by message.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	if t.Message != "" {
		return e.Message == t.Message
	}
	return false
}

// Error codes.
const (
	CodeMalformedData    = "malformed_data"
	CodeUnknownCmd       = "unknown_cmd"
	CodeConnectionClosed = "connection_closed"
	CodeCmdErr           = "cmd_err"
	CodeFailure          = "failure"
)

// Sentinels for errors.Is.
var (
	ErrMalformedData    = &Error{Code: CodeMalformedData}
	ErrUnknownCmd       = &Error{Code: CodeUnknownCmd}
	ErrConnectionClosed = &Error{Code: CodeConnectionClosed}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Malformed returns a malformed_data error.
func Malformed(format string, args ...any) *Error {
	return NewError(CodeMalformedData, fmt.Sprintf(format, args...))
}

// failureChain turns err into the entries of a failure response. The first
// entry carries the full message; any decoded remote chain below it follows.
func failureChain(err error) []Item {
	code := CodeFailure
	var we *Error
	if errors.As(err, &we) {
		code = we.Code
	}
	items := []Item{List(Str(code), Str(err.Error()), Str(""), Num(0))}
	if we != nil {
		for n := we.Next; n != nil; n = n.Next {
			items = append(items, List(Str(n.Code), Str(n.Message), Str(n.File), Num(uint64(n.Line))))
		}
	}
	return items
}

func parseFailure(params []Item) error {
	if len(params) == 0 {
		return Malformed("empty error list")
	}
	var head, tail *Error
	for _, it := range params {
		if it.Kind != KindList {
			return Malformed("malformed error list")
		}
		p := NewParser(it.List)
		e := &Error{
			Code:    p.Str(),
			Message: p.Str(),
			File:    p.Str(),
			Line:    int(p.Num()),
		}
		if err := p.Err(); err != nil {
			return err
		}
		if head == nil {
			head = e
		} else {
			tail.Next = e
		}
		tail = e
	}
	return head
}
