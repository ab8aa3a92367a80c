// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package coreerr defines the error kinds propagated out of the evaluator
// core (§7 of the engine design), shared by every package that can fail in
// a way a driver needs to discriminate on.
package coreerr

import "fmt"

// Kind tags the category of a core [Error].
type Kind string

// Defined error kinds.
const (
	ParseError          Kind = "ParseError"
	UndefinedVariable    Kind = "UndefinedVariable"
	TypeError            Kind = "TypeError"
	MissingAttribute     Kind = "MissingAttribute"
	InfiniteRecursion    Kind = "InfiniteRecursion"
	InvalidDerivation    Kind = "InvalidDerivation"
	InvalidBinding       Kind = "InvalidBinding"
	NotCallable          Kind = "NotCallable"
	BadHash              Kind = "BadHash"
	StoreError           Kind = "StoreError"
	UnsupportedFileType  Kind = "UnsupportedFileType"
)

// Error is the single error type the core raises. It always carries a kind
// tag and a human-readable message, and optionally the source position (a
// term description or file path) and an underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Pos  string
	Err  error
}

func (e *Error) Error() string {
	if e.Pos == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Pos, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an [Error] of the given kind with a formatted message and
// no source position.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// At is like [New] but records pos as the source position.
func At(kind Kind, pos string, format string, args ...any) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs an [Error] that carries err as its underlying cause.
func Wrap(kind Kind, pos string, err error) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: err.Error(), Err: err}
}

// Is reports whether err is a core [Error] of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}
