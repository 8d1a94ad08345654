package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrorCode is the stable, inspectable classification of a failure.
type ErrorCode int

const (
	CodeOK                         ErrorCode = 0
	CodeInternalError              ErrorCode = 1
	CodeBadValue                   ErrorCode = 2
	CodeNoSuchKey                  ErrorCode = 4
	CodeIllegalOperation           ErrorCode = 20
	CodeNamespaceNotFound          ErrorCode = 26
	CodeIndexNotFound              ErrorCode = 27
	CodeNamespaceExists            ErrorCode = 48
	CodeIndexAlreadyExists         ErrorCode = 68
	CodeInvalidOptions             ErrorCode = 72
	CodeInvalidNamespace           ErrorCode = 73
	CodeIndexOptionsConflict       ErrorCode = 85
	CodeWriteConflict              ErrorCode = 112
	CodeOperationCannotBeBatched   ErrorCode = 118
	CodeCollectionIsEmpty          ErrorCode = 119
	CodeDuplicateKey               ErrorCode = 11000
	CodeCannotCreateNonCappedOplog ErrorCode = 28838
)

var codeNames = map[ErrorCode]string{
	CodeOK:                         "OK",
	CodeInternalError:              "InternalError",
	CodeBadValue:                   "BadValue",
	CodeNoSuchKey:                  "NoSuchKey",
	CodeIllegalOperation:           "IllegalOperation",
	CodeNamespaceNotFound:          "NamespaceNotFound",
	CodeIndexNotFound:              "IndexNotFound",
	CodeNamespaceExists:            "NamespaceExists",
	CodeIndexAlreadyExists:         "IndexAlreadyExists",
	CodeInvalidOptions:             "InvalidOptions",
	CodeInvalidNamespace:           "InvalidNamespace",
	CodeIndexOptionsConflict:       "IndexOptionsConflict",
	CodeWriteConflict:              "WriteConflict",
	CodeOperationCannotBeBatched:   "OperationCannotBeBatched",
	CodeCollectionIsEmpty:          "CollectionIsEmpty",
	CodeDuplicateKey:               "DuplicateKey",
	CodeCannotCreateNonCappedOplog: "CannotCreateNonCappedOplog",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Location%d", int(c))
}

// Status is the error value returned by every public operation: a code plus a human-readable reason.
type Status struct {
	Code   ErrorCode
	Reason string
}

// NewStatus builds a Status with a formatted reason, carrying a stack trace for diagnostics.
func NewStatus(code ErrorCode, format string, args ...any) error {
	return errors.WithStackDepth(&Status{Code: code, Reason: fmt.Sprintf(format, args...)}, 1)
}

func (s *Status) Error() string {
	if s.Reason == "" {
		return s.Code.String()
	}
	return s.Code.String() + ": " + s.Reason
}

// Is matches any Status carrying the same code when the target is a code sentinel (empty reason).
func (s *Status) Is(target error) bool {
	t, ok := target.(*Status)
	if !ok {
		return false
	}
	if t.Reason == "" {
		return t.Code == s.Code
	}
	return t.Code == s.Code && t.Reason == s.Reason
}

// Sentinels for errors.Is matching on code.
var (
	ErrInternalError              = &Status{Code: CodeInternalError}
	ErrBadValue                   = &Status{Code: CodeBadValue}
	ErrNoSuchKey                  = &Status{Code: CodeNoSuchKey}
	ErrIllegalOperation           = &Status{Code: CodeIllegalOperation}
	ErrNamespaceNotFound          = &Status{Code: CodeNamespaceNotFound}
	ErrIndexNotFound              = &Status{Code: CodeIndexNotFound}
	ErrNamespaceExists            = &Status{Code: CodeNamespaceExists}
	ErrIndexAlreadyExists         = &Status{Code: CodeIndexAlreadyExists}
	ErrInvalidOptions             = &Status{Code: CodeInvalidOptions}
	ErrInvalidNamespace           = &Status{Code: CodeInvalidNamespace}
	ErrIndexOptionsConflict       = &Status{Code: CodeIndexOptionsConflict}
	ErrWriteConflict              = &Status{Code: CodeWriteConflict}
	ErrOperationCannotBeBatched   = &Status{Code: CodeOperationCannotBeBatched}
	ErrCollectionIsEmpty          = &Status{Code: CodeCollectionIsEmpty}
	ErrDuplicateKey               = &Status{Code: CodeDuplicateKey}
	ErrCannotCreateNonCappedOplog = &Status{Code: CodeCannotCreateNonCappedOplog}
)

// CodeOf extracts the code from an error chain. Nil maps to CodeOK and foreign errors to
// CodeInternalError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var s *Status
	if errors.As(err, &s) {
		return s.Code
	}
	return CodeInternalError
}

// ReasonOf returns the reason of the first Status in the chain, or the error text.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var s *Status
	if errors.As(err, &s) {
		return s.Reason
	}
	return err.Error()
}

// IsWriteConflict reports whether err is the transient write-conflict signal.
func IsWriteConflict(err error) bool {
	return CodeOf(err) == CodeWriteConflict
}

// IsNotFound reports whether err is in the not-found class.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case CodeNamespaceNotFound, CodeIndexNotFound:
		return true
	}
	return false
}

// IsValidation reports whether err is a caller error about operation parameters.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidOptions, CodeIndexOptionsConflict, CodeNoSuchKey, CodeBadValue,
		CodeInvalidNamespace, CodeCannotCreateNonCappedOplog:
		return true
	}
	return false
}
