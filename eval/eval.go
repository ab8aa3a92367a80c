// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package eval

import (
	"context"
	"strings"

	"fix.alekseev.dev/core/internal/coreerr"
	"fix.alekseev.dev/core/term"
)

// Eval reduces e to normal form under s, following the four-step
// memoization protocol of §4.D: a black-hole sentinel is installed before
// reduction begins, so a term that reaches itself during its own reduction
// observes the sentinel and fails with InfiniteRecursion rather than
// looping. A failed reduction is not memoized, so a later call (for
// instance after the environment changes) may retry.
func (s *State) Eval(ctx context.Context, e *term.Term) (*term.Term, error) {
	s.mu.Lock()
	if entry, ok := s.memo[e]; ok {
		if entry.state == inProgress {
			s.mu.Unlock()
			return nil, coreerr.New(coreerr.InfiniteRecursion, "%v depends on its own value", e)
		}
		s.stats.Cached++
		v := entry.value
		s.mu.Unlock()
		return v, nil
	}
	s.memo[e] = &memoEntry{state: inProgress}
	s.mu.Unlock()

	nf, err := s.evalStep(ctx, e)
	if err != nil {
		s.mu.Lock()
		delete(s.memo, e)
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	s.memo[e] = &memoEntry{state: done, value: nf}
	s.stats.Evaluated++
	s.mu.Unlock()
	return nf, nil
}

// EvalString evaluates e and requires the result to be a Str, the coercion
// helper named in §4.D.
func (s *State) EvalString(ctx context.Context, e *term.Term) (string, error) {
	v, err := s.Eval(ctx, e)
	if err != nil {
		return "", err
	}
	if v.Kind() != term.Str {
		return "", coreerr.New(coreerr.TypeError, "expected a string, got %v", v.Kind())
	}
	return v.Text(), nil
}

// EvalPath evaluates e and requires the result to be a Path, the coercion
// helper named in §4.D.
func (s *State) EvalPath(ctx context.Context, e *term.Term) (string, error) {
	v, err := s.Eval(ctx, e)
	if err != nil {
		return "", err
	}
	if v.Kind() != term.Path {
		return "", coreerr.New(coreerr.TypeError, "expected a path, got %v", v.Kind())
	}
	return v.StorePath(), nil
}

// evalStep performs one root reduction of e, dispatching on its kind. It
// never itself installs or clears memo entries; that bookkeeping is Eval's
// job, so evalStep may be called recursively (via Eval) without disturbing
// the sentinel protocol.
func (s *State) evalStep(ctx context.Context, e *term.Term) (*term.Term, error) {
	switch e.Kind() {
	case term.Str, term.Path, term.Uri, term.Bool, term.Int, term.Float,
		term.Function, term.Attrs, term.List, term.Derivation:
		return e, nil

	case term.Var:
		if isPrimopName(e.Text()) {
			return e, nil
		}
		return nil, coreerr.New(coreerr.UndefinedVariable, "undefined variable %q", e.Text())

	case term.Call:
		return s.evalCall(ctx, e)

	case term.Select:
		target, err := s.Eval(ctx, e.SelectTarget())
		if err != nil {
			return nil, err
		}
		if target.Kind() != term.Attrs {
			return nil, coreerr.New(coreerr.TypeError, "cannot select %q from %v", e.SelectName(), target.Kind())
		}
		v, ok := target.Lookup(e.SelectName())
		if !ok {
			return nil, coreerr.New(coreerr.MissingAttribute, "attribute set has no %q", e.SelectName())
		}
		return s.Eval(ctx, v)

	case term.Rec:
		return s.expandRec(e), nil

	case term.LetRec:
		recTerm := s.Arena.NewRec(bindingsToMap(e.Bindings()))
		return s.Eval(ctx, s.Arena.NewSelect(recTerm, "body"))

	case term.If:
		cond, err := s.Eval(ctx, e.Cond())
		if err != nil {
			return nil, err
		}
		if cond.Kind() != term.Bool {
			return nil, coreerr.New(coreerr.TypeError, "if condition must be a bool, got %v", cond.Kind())
		}
		if cond.Bool() {
			return s.Eval(ctx, e.Then())
		}
		return s.Eval(ctx, e.Else())

	case term.HasSubstr:
		haystack, err := s.Eval(ctx, e.HasSubstrHaystack())
		if err != nil {
			return nil, err
		}
		if haystack.Kind() != term.Str {
			return nil, coreerr.New(coreerr.TypeError, "HasSubstr expects a string haystack, got %v", haystack.Kind())
		}
		needle, err := s.Eval(ctx, e.HasSubstrNeedle())
		if err != nil {
			return nil, err
		}
		if needle.Kind() != term.Str {
			return nil, coreerr.New(coreerr.TypeError, "HasSubstr expects a string needle, got %v", needle.Kind())
		}
		return s.Arena.NewBool(strings.Contains(haystack.Text(), needle.Text())), nil

	case term.Platform:
		return s.Arena.NewStr(s.Platform), nil

	default:
		return nil, coreerr.New(coreerr.TypeError, "unreducible term kind %v", e.Kind())
	}
}

// expandRec implements §4.D's Rec rule: the result is a non-recursive Attrs
// whose values are substitutions of the original bindings, each occurrence
// of a sibling name replaced by Select(e, name) — built against e itself
// (not a copy), so every expansion of the same Rec term shares the same
// Select nodes and a genuine self-reference black-holes correctly.
func (s *State) expandRec(e *term.Term) *term.Term {
	bindings := e.Bindings()
	subs := make(map[string]*term.Term, len(bindings))
	for _, b := range bindings {
		subs[b.Name] = s.Arena.NewSelect(e, b.Name)
	}
	out := make([]term.Binding, len(bindings))
	for i, b := range bindings {
		out[i] = term.Binding{Name: b.Name, Value: term.Substitute(subs, b.Value)}
	}
	return s.Arena.NewAttrsSorted(out)
}

func bindingsToMap(bindings []term.Binding) map[string]*term.Term {
	m := make(map[string]*term.Term, len(bindings))
	for _, b := range bindings {
		m[b.Name] = b.Value
	}
	return m
}

// evalCall implements §4.D's Call rule.
func (s *State) evalCall(ctx context.Context, e *term.Term) (*term.Term, error) {
	f, err := s.Eval(ctx, e.CallFunc())
	if err != nil {
		return nil, err
	}

	switch {
	case f.Kind() == term.Var && isPrimopName(f.Text()):
		result, err := callPrimop(ctx, s, f.Text(), e.CallArg())
		if err != nil {
			return nil, err
		}
		return s.Eval(ctx, result)

	case f.Kind() == term.Function:
		arg, err := s.Eval(ctx, e.CallArg())
		if err != nil {
			return nil, err
		}
		if arg.Kind() != term.Attrs {
			return nil, coreerr.New(coreerr.TypeError, "function argument must be an attribute set, got %v", arg.Kind())
		}
		subs, err := bindFormals(f.Formals(), arg)
		if err != nil {
			return nil, err
		}
		return s.Eval(ctx, term.Substitute(subs, f.Body()))

	default:
		return nil, coreerr.New(coreerr.NotCallable, "%v is not callable", f.Kind())
	}
}

// bindFormals implements the single-attribute-set calling convention (§9
// open question): every formal must be supplied exactly once, and the
// argument attrs may not carry any extra key.
func bindFormals(formals []string, arg *term.Term) (map[string]*term.Term, error) {
	bindings := arg.Bindings()
	want := make(map[string]bool, len(formals))
	for _, f := range formals {
		want[f] = true
	}
	for _, b := range bindings {
		if !want[b.Name] {
			return nil, coreerr.New(coreerr.TypeError, "unexpected argument %q", b.Name)
		}
	}
	subs := make(map[string]*term.Term, len(formals))
	for _, f := range formals {
		v, ok := arg.Lookup(f)
		if !ok {
			return nil, coreerr.New(coreerr.TypeError, "missing argument %q", f)
		}
		subs[f] = v
	}
	return subs, nil
}
