package core

/*
pawl — Palo Alto firewall URL allow-list tool in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"errors"
	"strings"
)

// Kind is the coarse category of a failure. Orchestrators branch on it to
// decide whether to keep iterating or give up.
type Kind uint8

const (
	// KindOther is an unclassified failure.
	KindOther Kind = iota
	// KindValidation marks bad input rejected before any remote call.
	KindValidation
	// KindTransport marks network failures and timeouts talking to the firewall.
	// Retried by the attempt and poll budgets, then surfaced.
	KindTransport
	// KindAuth marks an expired or invalid API key. Never retried.
	KindAuth
	// KindRemote marks a structured failure reported by the firewall itself,
	// e.g. a job ending in FAIL or a response with status="error".
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindRemote:
		return "remote"
	default:
		return "other"
	}
}

// Error is the error type shared by the core and its collaborators.
//
// Fields:
//
//	Kind: failure category, see Kind.
//	Op:   the operation that failed ("log-query", "commit", ...). Optional.
//	Msg:  human-readable description.
//	Err:  the wrapped cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// NewError creates an *Error of the given kind.
func NewError(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// WrapError wraps cause in an *Error. A nil cause yields nil.
func WrapError(kind Kind, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: cause.Error(), Err: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return e.Op + ": " + e.Msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure is transient.
func (e *Error) IsRetryable() bool { return e.Kind == KindTransport }

// KindOf returns the Kind of the first *Error in err's chain, or KindOther.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// IsRetryable reports whether err is a transient transport failure.
// Untyped errors are treated as non-retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsRetryable()
	}
	return false
}

// IsValidation reports whether err is a KindValidation failure.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsAuth reports whether err is a KindAuth failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// ClassifyMessage guesses a Kind from error text. Only the network boundary
// calls this, for errors that arrive without a type.
func ClassifyMessage(msg string) Kind {
	s := strings.ToLower(msg)
	switch {
	case isTimeoutText(s):
		return KindTransport
	case strings.Contains(s, "connection"), strings.Contains(s, "no such host"),
		strings.Contains(s, "eof"):
		return KindTransport
	case strings.Contains(s, "authentication"), strings.Contains(s, "unauthorized"),
		strings.Contains(s, "invalid credential"), strings.Contains(s, "forbidden"):
		return KindAuth
	default:
		return KindOther
	}
}

func isTimeoutText(s string) bool {
	return strings.Contains(s, "timeout") || strings.Contains(s, "timed out") ||
		strings.Contains(s, "deadline exceeded")
}

// Reason renders err as the short reason string recorded on attempts and
// commit statuses.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	switch e.Kind {
	case KindTransport:
		if isTimeoutText(strings.ToLower(e.Msg)) {
			return "request timeout: " + e.Msg
		}
		return "connection error: " + e.Msg
	case KindAuth:
		return "authentication error: " + e.Msg
	default:
		return e.Error()
	}
}

var (
	// ErrNoTerms is returned when none of the supplied search terms survive validation.
	ErrNoTerms = NewError(KindValidation, "parse-terms", "no valid search terms provided")
	// ErrInvalidAction is returned for an unknown action filter.
	ErrInvalidAction = NewError(KindValidation, "action", "invalid action type")
)
