// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package term

// Substitute performs capture-avoiding substitution of the free variables
// named in subs throughout e, rebuilding terms through e's arena so the
// result remains maximally shared. Substitute is a pure function: it
// consults no evaluator state and never fails, since a well-formed term
// graph admits no case it cannot handle.
//
// A substitution into a Function or Rec/LetRec removes the names that
// binder introduces from the map before descending into its body, so a
// substitution never reaches into a shadowed binding (invariant 2).
func Substitute(subs map[string]*Term, e *Term) *Term {
	if len(subs) == 0 {
		return e
	}
	a := e.arena
	switch e.kind {
	case Str, Path, Uri, Bool, Int, Float, Derivation, Platform:
		return e

	case HasSubstr:
		return a.NewHasSubstr(Substitute(subs, e.children[0]), Substitute(subs, e.children[1]))

	case Var:
		if v, ok := subs[e.str]; ok {
			return v
		}
		return e

	case Function:
		sub2 := without(subs, e.formals)
		if len(sub2) == 0 {
			return e
		}
		return a.NewFunction(e.formals, Substitute(sub2, e.children[0]))

	case Call:
		return a.NewCall(Substitute(subs, e.children[0]), Substitute(subs, e.children[1]))

	case Select:
		return a.NewSelect(Substitute(subs, e.children[0]), e.str)

	case List:
		elems := make([]*Term, len(e.children))
		changed := false
		for i, c := range e.children {
			elems[i] = Substitute(subs, c)
			changed = changed || elems[i] != c
		}
		if !changed {
			return e
		}
		return a.NewList(elems)

	case If:
		return a.NewIf(
			Substitute(subs, e.children[0]),
			Substitute(subs, e.children[1]),
			Substitute(subs, e.children[2]),
		)

	case Attrs:
		// Attrs is not a binder: each value's free variables refer to the
		// enclosing scope, not sibling keys, so the full map descends
		// unchanged.
		out := make([]Binding, len(e.bindings))
		changed := false
		for i, b := range e.bindings {
			out[i] = Binding{Name: b.Name, Value: Substitute(subs, b.Value)}
			changed = changed || out[i].Value != b.Value
		}
		if !changed {
			return e
		}
		return a.NewAttrsSorted(out)

	case Rec, LetRec:
		names := make([]string, len(e.bindings))
		for i, b := range e.bindings {
			names[i] = b.Name
		}
		sub2 := without(subs, names)
		if len(sub2) == 0 {
			return e
		}
		m := make(map[string]*Term, len(e.bindings))
		for _, b := range e.bindings {
			m[b.Name] = Substitute(sub2, b.Value)
		}
		if e.kind == Rec {
			return a.NewRec(m)
		}
		return a.NewLetRec(m)

	default:
		return e
	}
}

// without returns a copy of subs with the given names removed, or subs
// itself (no copy) if none of the names are present.
func without(subs map[string]*Term, names []string) map[string]*Term {
	present := false
	for _, n := range names {
		if _, ok := subs[n]; ok {
			present = true
			break
		}
	}
	if !present {
		return subs
	}
	out := make(map[string]*Term, len(subs))
	for k, v := range subs {
		out[k] = v
	}
	for _, n := range names {
		delete(out, n)
	}
	return out
}
