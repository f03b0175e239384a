package core

import (
	"errors"
	"fmt"
)

// Code is a machine-readable ledger error code.
type Code string

const (
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeNameTooLong         Code = "NAME_TOO_LONG"
	CodeZoneIDTooLong       Code = "ZONE_ID_TOO_LONG"
	CodeInvalidMaterialType Code = "INVALID_MATERIAL_TYPE"
	CodeInvalidTimestamp    Code = "INVALID_TIMESTAMP"
	CodeOverflow            Code = "OVERFLOW"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInsufficientBlocks  Code = "INSUFFICIENT_BLOCKS"
	CodeAlreadyExists       Code = "ALREADY_EXISTS"
	CodeNotInitialized      Code = "NOT_INITIALIZED"
	CodeRecordMismatch      Code = "RECORD_MISMATCH"
)

// codeOrder fixes the numeric value of each code. Append only: clients
// persist these numbers.
var codeOrder = []Code{
	CodeInvalidAmount,
	CodeNameTooLong,
	CodeZoneIDTooLong,
	CodeInvalidMaterialType,
	CodeInvalidTimestamp,
	CodeOverflow,
	CodeUnauthorized,
	CodeInsufficientBlocks,
	CodeAlreadyExists,
	CodeNotInitialized,
	CodeRecordMismatch,
}

// errorCodeBase is the first numeric ledger error code.
const errorCodeBase = 6000

// Number returns the stable numeric form of c, or 0 for an unknown code.
func (c Code) Number() int {
	for i, known := range codeOrder {
		if known == c {
			return errorCodeBase + i
		}
	}
	return 0
}

// Error is a ledger error carrying a code and optional context.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ledger error with the same code, so
// errors.Is(err, ErrOverflow) holds for any overflow regardless of message.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// NewError creates a ledger error with a code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata creates a ledger error that carries key/value context.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// CodeOf extracts the ledger code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidAmount       = NewError(CodeInvalidAmount, "amount must be greater than zero")
	ErrNameTooLong         = NewError(CodeNameTooLong, "project name exceeds max length")
	ErrZoneIDTooLong       = NewError(CodeZoneIDTooLong, "zone id exceeds max length")
	ErrInvalidMaterialType = NewError(CodeInvalidMaterialType, "material type is invalid")
	ErrInvalidTimestamp    = NewError(CodeInvalidTimestamp, "timestamp is invalid")
	ErrOverflow            = NewError(CodeOverflow, "arithmetic overflow")
	ErrUnauthorized        = NewError(CodeUnauthorized, "caller is not the authority")
	ErrInsufficientBlocks  = NewError(CodeInsufficientBlocks, "insufficient BLOCK tokens for conversion")
	ErrAlreadyExists       = NewError(CodeAlreadyExists, "record already exists")
	ErrNotInitialized      = NewError(CodeNotInitialized, "record is not initialized")
	ErrRecordMismatch      = NewError(CodeRecordMismatch, "stored record has a different type")
)
