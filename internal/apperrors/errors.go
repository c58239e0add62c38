// Package apperrors defines the typed error kinds the campaign-manager core
// surfaces to its callers (see spec §7). The core is transport-agnostic, so
// unlike CloudPasture-kubevirt-shepherd's AppError it carries no HTTP status
// - mapping a Kind to a status code is the transport layer's job.
package apperrors

import "fmt"

// Kind enumerates the distinct failure modes the core can report.
type Kind string

const (
	NotFound            Kind = "NotFound"
	BadRequest           Kind = "BadRequest"
	InvalidAncestor      Kind = "InvalidAncestor"
	UnresolvedConflicts  Kind = "UnresolvedConflicts"
	BeforeDivergence     Kind = "BeforeDivergence"
	Conflict             Kind = "Conflict"
	Transient            Kind = "Transient"
	NotImplementedKind   Kind = "NotImplemented"
)

// AppError is a structured error carrying a machine-readable Kind plus a
// human-readable message and an optional wrapped cause.
type AppError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is reports whether target is an *AppError with the same Kind, so callers
// can write errors.Is(err, apperrors.New(apperrors.NotFound, "", "")).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message}
}

func Wrap(err error, kind Kind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message, Err: err}
}

func NotFoundErr(code, message string) *AppError { return New(NotFound, code, message) }

func BadRequestErr(code, message string) *AppError { return New(BadRequest, code, message) }

func InvalidAncestorErr(code, message string) *AppError { return New(InvalidAncestor, code, message) }

func UnresolvedConflictsErr(code, message string) *AppError {
	return New(UnresolvedConflicts, code, message)
}

func BeforeDivergenceErr(code, message string) *AppError {
	return New(BeforeDivergence, code, message)
}

func ConflictErr(code, message string) *AppError { return New(Conflict, code, message) }

func TransientErr(err error, code, message string) *AppError {
	return Wrap(err, Transient, code, message)
}

func NotImplementedErr(code, message string) *AppError {
	return New(NotImplementedKind, code, message)
}

// OfKind reports whether err is an *AppError of the given Kind.
func OfKind(err error, kind Kind) bool {
	ae, ok := err.(*AppError)
	if !ok {
		return false
	}
	return ae.Kind == kind
}
