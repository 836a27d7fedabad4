// Copyright 2026 The Calimero Authors
// This file is part of Calimero.
//
// Calimero is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Calimero is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Calimero. If not, see <http://www.gnu.org/licenses/>.

// Package calerr defines the error taxonomy shared by every core component.
package calerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error along the lines a caller (or an external
// interface wrapping the core) needs to react to. Kind is never panicked on;
// it is always returned.
type Kind int

const (
	// Unknown is never constructed directly; a zero Kind indicates a bug
	// in the component that produced the error.
	Unknown Kind = iota
	NotFound
	InvalidArgument
	Unauthorized
	IntegrityViolation
	MissingDependency
	ResourceExhausted
	Timeout
	StorageError
	SerializationError
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case InvalidArgument:
		return "InvalidArgument"
	case Unauthorized:
		return "Unauthorized"
	case IntegrityViolation:
		return "IntegrityViolation"
	case MissingDependency:
		return "MissingDependency"
	case ResourceExhausted:
		return "ResourceExhausted"
	case Timeout:
		return "Timeout"
	case StorageError:
		return "StorageError"
	case SerializationError:
		return "SerializationError"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is a Kind-tagged error carrying a human message and an optional
// wrapped cause. Internal details belong in the wrapped cause (logged, not
// echoed to callers outside the process); Message is safe to surface.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error wrapping cause. The cause is always nested as
// is, even when it is already a *Error of the same Kind; messages are not
// merged.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or Unknown if err is not (or does not
// wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
