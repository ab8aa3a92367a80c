// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package eval

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"fix.alekseev.dev/core/derivation"
	"fix.alekseev.dev/core/internal/coreerr"
	"fix.alekseev.dev/core/parser"
	"fix.alekseev.dev/core/term"
)

// primopNames is the recognized set of §4.E named primops. A Var bearing
// one of these names is itself a normal form (it has nowhere left to
// reduce until it is the head of a Call); any other free variable is
// undefined.
var primopNames = map[string]bool{
	"import":     true,
	"derivation": true,
	"baseNameOf": true,
	"toString":   true,
}

func isPrimopName(name string) bool {
	return primopNames[name]
}

// callPrimop dispatches a Call whose head reduced to Var(name), passing it
// the call's argument term un-evaluated — each primop decides for itself
// when and how to force its argument, per §4.E.
func callPrimop(ctx context.Context, s *State, name string, arg *term.Term) (*term.Term, error) {
	switch name {
	case "import":
		return primImport(ctx, s, arg)
	case "derivation":
		return primDerivation(ctx, s, arg)
	case "baseNameOf":
		return primBaseNameOf(ctx, s, arg)
	case "toString":
		return primToString(ctx, s, arg)
	default:
		return nil, coreerr.New(coreerr.UndefinedVariable, "unrecognized primop %q", name)
	}
}

// primImport resolves a path (against SearchDirs when relative), reads and
// parses the file there, and evaluates the result in the current state —
// so a diamond of imports shares one parse and one reduction per file via
// the ordinary term-interning and memoization machinery, not a separate
// cache.
func primImport(ctx context.Context, s *State, arg *term.Term) (*term.Term, error) {
	p, err := s.EvalPath(ctx, arg)
	if err != nil {
		return nil, err
	}
	resolved, err := s.resolveSearchPath(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.StoreError, resolved, err)
	}
	parsed, err := parser.Parse(s.Arena, string(data))
	if err != nil {
		return nil, err
	}
	return s.Eval(ctx, parsed)
}

// resolveSearchPath finds the file an import path names: absolute paths
// are used directly; relative paths are tried in turn against each of
// SearchDirs, in order, the first existing candidate winning.
func (s *State) resolveSearchPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	for _, dir := range s.SearchDirs {
		candidate := filepath.Join(dir, p)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", coreerr.New(coreerr.StoreError, "import: %q not found in any search directory", p)
}

// primDerivation forces its argument to an Attrs and hands it to the
// derivation assembler (§4.G), using this state's own Eval as the forcing
// function binding coercion needs for nested terms.
func primDerivation(ctx context.Context, s *State, arg *term.Term) (*term.Term, error) {
	argsTerm, err := s.Eval(ctx, arg)
	if err != nil {
		return nil, err
	}
	evaluator := func(t *term.Term) (*term.Term, error) { return s.Eval(ctx, t) }
	return derivation.Assemble(ctx, s, evaluator, argsTerm)
}

// primBaseNameOf coerces its argument to a string and returns the final
// path component.
func primBaseNameOf(ctx context.Context, s *State, arg *term.Term) (*term.Term, error) {
	str, err := coerceToString(ctx, s, arg)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimRight(str, "/")
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	return s.Arena.NewStr(trimmed), nil
}

// primToString coerces its argument to a string.
func primToString(ctx context.Context, s *State, arg *term.Term) (*term.Term, error) {
	str, err := coerceToString(ctx, s, arg)
	if err != nil {
		return nil, err
	}
	return s.Arena.NewStr(str), nil
}

// coerceToString implements §4.E's "coerce Str/Path/Uri to Str" rule shared
// by baseNameOf and toString.
func coerceToString(ctx context.Context, s *State, e *term.Term) (string, error) {
	v, err := s.Eval(ctx, e)
	if err != nil {
		return "", err
	}
	switch v.Kind() {
	case term.Str, term.Path, term.Uri:
		return v.Text(), nil
	default:
		return "", coreerr.New(coreerr.TypeError, "cannot coerce %v to a string", v.Kind())
	}
}
