package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess            Code = 0
	CodeInternal           Code = 1
	CodeUsage              Code = 2
	CodeConfig             Code = 3
	CodeNotFound           Code = 4
	CodeNotConfigured      Code = 5
	CodeUnsupportedNetwork Code = 6
	CodeUpstreamAPI        Code = 10
	CodeUpstreamNetwork    Code = 11
	CodeUpstreamParse      Code = 12
	CodeLedger             Code = 13
	CodeNetworkMismatch    Code = 14
	CodeSigner             Code = 15
	CodeActionTimeout      Code = 16
	CodeBlocked            Code = 17
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
	// Available lists the symbols configured on the active network. It is only
	// populated for directory resolution failures.
	Available []string
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	cErr, ok := As(err)
	return ok && cErr.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName returns the envelope error type for a code.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeConfig:
		return "config_error"
	case CodeNotFound:
		return "not_found"
	case CodeNotConfigured:
		return "not_configured"
	case CodeUnsupportedNetwork:
		return "unsupported_network"
	case CodeUpstreamAPI:
		return "upstream_api_error"
	case CodeUpstreamNetwork:
		return "upstream_network_error"
	case CodeUpstreamParse:
		return "upstream_parse_error"
	case CodeLedger:
		return "ledger_error"
	case CodeNetworkMismatch:
		return "network_mismatch"
	case CodeSigner:
		return "signer_error"
	case CodeActionTimeout:
		return "action_timeout"
	case CodeBlocked:
		return "blocked"
	default:
		return "internal_error"
	}
}
