// Package fault tags errors with the kind of failure that produced them so
// boundaries can branch on the kind instead of on concrete error types.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindUnknown           Kind = ""
	KindValidation        Kind = "VALIDATION"
	KindTransportConnect  Kind = "TRANSPORT_CONNECT"
	KindPublish           Kind = "PUBLISH"
	KindProcessing        Kind = "PROCESSING"
	KindDeadLetterPublish Kind = "DEAD_LETTER_PUBLISH"
)

func (k Kind) String() string {
	if k == KindUnknown {
		return "UNKNOWN"
	}
	return string(k)
}

// Violation is a single failed input constraint.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

type Error struct {
	Kind       Kind
	Op         string
	Err        error
	Violations []Violation
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(e.Kind.String()))
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Violations) > 0 {
		fields := make([]string, 0, len(e.Violations))
		for _, v := range e.Violations {
			fields = append(fields, v.Field)
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(fields, ", "))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op string, violations []Violation) error {
	return &Error{Kind: KindValidation, Op: op, Violations: violations}
}

// KindOf returns the kind of the outermost tagged error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ViolationsOf returns the violations carried by a validation error, if any.
func ViolationsOf(err error) []Violation {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Violations
	}
	return nil
}
