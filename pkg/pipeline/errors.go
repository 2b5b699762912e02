package pipeline

import (
	"fmt"
)

// ErrorKind classifies why a turn failed.
type ErrorKind string

const (
	KindModelLoad  ErrorKind = "model_load"
	KindGeneration ErrorKind = "generation"
	KindValidation ErrorKind = "validation"
	KindExecution  ErrorKind = "execution"
)

// Default user-facing messages per kind. Validation failures use the
// validator's own message instead.
var failureMessages = map[ErrorKind]string{
	KindModelLoad:  "The assistant is still starting up. Please try again in a minute.",
	KindGeneration: "Sorry, I couldn't work out how to answer that. Please try rephrasing your question.",
	KindValidation: "I couldn't process that request. Please try again.",
	KindExecution:  "Sorry, something went wrong while looking up your records. Please try again.",
}

// Error is a failed turn. UserMessage is safe to show; Cause is only logged.
type Error struct {
	Kind        ErrorKind
	Stage       Stage
	UserMessage string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error at %s: %v", e.Kind, e.Stage, e.Cause)
	}
	return fmt.Sprintf("%s error at %s", e.Kind, e.Stage)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, stage Stage, cause error) *Error {
	return &Error{Kind: kind, Stage: stage, UserMessage: failureMessages[kind], Cause: cause}
}
