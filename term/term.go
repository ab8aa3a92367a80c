// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package term implements the interned term graph that the evaluator
// reduces: an immutable, maximally-shared representation of the
// configuration language's abstract syntax in which structural equality
// coincides with pointer equality.
package term

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Kind identifies the variant of a [Term].
type Kind int

// Defined term kinds, matching the data model of the evaluator core.
const (
	Str Kind = iota
	Path
	Uri
	Bool
	Int
	Float
	Var
	Function
	Call
	Attrs
	Rec
	Select
	List
	If
	LetRec
	Derivation
	HasSubstr
	Platform
)

func (k Kind) String() string {
	switch k {
	case Str:
		return "Str"
	case Path:
		return "Path"
	case Uri:
		return "Uri"
	case Bool:
		return "Bool"
	case Int:
		return "Int"
	case Float:
		return "Float"
	case Var:
		return "Var"
	case Function:
		return "Function"
	case Call:
		return "Call"
	case Attrs:
		return "Attrs"
	case Rec:
		return "Rec"
	case Select:
		return "Select"
	case List:
		return "List"
	case If:
		return "If"
	case LetRec:
		return "LetRec"
	case Derivation:
		return "Derivation"
	case HasSubstr:
		return "HasSubstr"
	case Platform:
		return "Platform"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Binding is a single name/value pair of an [Attrs], [Rec], or [LetRec] term.
type Binding struct {
	Name  string
	Value *Term
}

// A Term is a node in the interned term graph. Terms are immutable once
// constructed; the zero value is not a valid Term. Two Terms produced by the
// same [Arena] are structurally equal if and only if they are the same
// pointer (invariant 1 of the data model).
type Term struct {
	arena *Arena
	kind  Kind

	str string // Str/Path/Uri/Var text, Select attribute name
	b   bool
	i   int64
	f   float64

	// children holds ordered sub-terms, meaning depends on kind:
	//   Call:   [f, arg]
	//   Select: [e]          (attribute name is str)
	//   List:   elems
	//   If:     [cond, then, else]
	//   Function: [body]     (formal names are formals)
	//   HasSubstr: [haystack, needle]
	children []*Term

	formals  []string  // Function: ordered parameter names
	bindings []Binding // Attrs/Rec/LetRec: sorted by Name
}

// Kind returns the term's variant tag.
func (t *Term) Kind() Kind { return t.kind }

// Arena returns the arena that interned t.
func (t *Term) Arena() *Arena { return t.arena }

// Text returns the payload of a Str, Path, Uri, or Var term.
func (t *Term) Text() string { return t.str }

// Bool returns the payload of a Bool term.
func (t *Term) Bool() bool { return t.b }

// Int returns the payload of an Int term.
func (t *Term) Int() int64 { return t.i }

// Float returns the payload of a Float term.
func (t *Term) Float() float64 { return t.f }

// StorePath returns the store path payload of a Derivation term, or the
// filesystem path payload of a Path term.
func (t *Term) StorePath() string { return t.str }

// Formals returns the ordered parameter names of a Function term.
func (t *Term) Formals() []string { return t.formals }

// Body returns the body of a Function term.
func (t *Term) Body() *Term { return t.children[0] }

// CallFunc returns the function-position child of a Call term.
func (t *Term) CallFunc() *Term { return t.children[0] }

// CallArg returns the argument child of a Call term.
func (t *Term) CallArg() *Term { return t.children[1] }

// SelectTarget returns the attribute-set child of a Select term.
func (t *Term) SelectTarget() *Term { return t.children[0] }

// SelectName returns the attribute name of a Select term.
func (t *Term) SelectName() string { return t.str }

// Elems returns the elements of a List term.
func (t *Term) Elems() []*Term { return t.children }

// HasSubstrHaystack and HasSubstrNeedle return the two children of a
// HasSubstr term.
func (t *Term) HasSubstrHaystack() *Term { return t.children[0] }
func (t *Term) HasSubstrNeedle() *Term   { return t.children[1] }

// Cond, Then, Else return the three children of an If term.
func (t *Term) Cond() *Term { return t.children[0] }
func (t *Term) Then() *Term { return t.children[1] }
func (t *Term) Else() *Term { return t.children[2] }

// Bindings returns the bindings of an Attrs, Rec, or LetRec term, sorted by
// name for deterministic iteration.
func (t *Term) Bindings() []Binding { return t.bindings }

// Lookup returns the value bound to name in an Attrs, Rec, or LetRec term.
func (t *Term) Lookup(name string) (*Term, bool) {
	i := sort.Search(len(t.bindings), func(i int) bool { return t.bindings[i].Name >= name })
	if i < len(t.bindings) && t.bindings[i].Name == name {
		return t.bindings[i].Value, true
	}
	return nil, false
}

// String renders t as a debug string. It is not the language's surface
// syntax and is intended only for error messages and tests.
func (t *Term) String() string {
	var sb strings.Builder
	t.writeDebug(&sb)
	return sb.String()
}

func (t *Term) writeDebug(sb *strings.Builder) {
	switch t.kind {
	case Str:
		fmt.Fprintf(sb, "Str(%q)", t.str)
	case Path:
		fmt.Fprintf(sb, "Path(%q)", t.str)
	case Uri:
		fmt.Fprintf(sb, "Uri(%q)", t.str)
	case Bool:
		fmt.Fprintf(sb, "Bool(%t)", t.b)
	case Int:
		fmt.Fprintf(sb, "Int(%d)", t.i)
	case Float:
		fmt.Fprintf(sb, "Float(%g)", t.f)
	case Var:
		fmt.Fprintf(sb, "Var(%q)", t.str)
	case Derivation:
		fmt.Fprintf(sb, "Derivation(%q)", t.str)
	case Platform:
		sb.WriteString("Platform")
	case HasSubstr:
		sb.WriteString("HasSubstr(")
		t.children[0].writeDebug(sb)
		sb.WriteString(", ")
		t.children[1].writeDebug(sb)
		sb.WriteByte(')')
	case Function:
		fmt.Fprintf(sb, "Function(%v, ", t.formals)
		t.children[0].writeDebug(sb)
		sb.WriteByte(')')
	case Call:
		sb.WriteString("Call(")
		t.children[0].writeDebug(sb)
		sb.WriteString(", ")
		t.children[1].writeDebug(sb)
		sb.WriteByte(')')
	case Select:
		sb.WriteString("Select(")
		t.children[0].writeDebug(sb)
		fmt.Fprintf(sb, ", %q)", t.str)
	case List:
		sb.WriteByte('[')
		for i, e := range t.children {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.writeDebug(sb)
		}
		sb.WriteByte(']')
	case If:
		sb.WriteString("If(")
		t.children[0].writeDebug(sb)
		sb.WriteString(", ")
		t.children[1].writeDebug(sb)
		sb.WriteString(", ")
		t.children[2].writeDebug(sb)
		sb.WriteByte(')')
	case Attrs, Rec, LetRec:
		sb.WriteString(t.kind.String())
		sb.WriteString("{")
		for i, b := range t.bindings {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.Name)
			sb.WriteString(" = ")
			b.Value.writeDebug(sb)
		}
		sb.WriteByte('}')
	default:
		sb.WriteString("<?>")
	}
}

// Arena is a maximal-sharing store of interned terms. Equal terms constructed
// through the same Arena are the same pointer, which makes pointer
// comparison and map lookups on *Term cheap and correct. The zero value is
// ready to use. An Arena may be shared by multiple [eval.State] values and
// outlives all of them.
type Arena struct {
	mu    sync.Mutex
	table map[string]*Term
}

// NewArena returns a new, empty Arena.
func NewArena() *Arena {
	return &Arena{table: make(map[string]*Term)}
}

func ptrKey(t *Term) string {
	if t == nil {
		return "nil"
	}
	return fmt.Sprintf("%x", reflect.ValueOf(t).Pointer())
}

// intern returns the canonical instance for the given content, allocating a
// new Term only if an equal one has not already been interned.
func (a *Arena) intern(key string, build func() *Term) *Term {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.table == nil {
		a.table = make(map[string]*Term)
	}
	if t, ok := a.table[key]; ok {
		return t
	}
	t := build()
	t.arena = a
	a.table[key] = t
	return t
}

func scalarKey(kind Kind, str string, b bool, i int64, f float64) string {
	return fmt.Sprintf("%d|%q|%t|%d|%g", kind, str, b, i, f)
}

// NewStr interns a string literal.
func (a *Arena) NewStr(s string) *Term {
	return a.intern(scalarKey(Str, s, false, 0, 0), func() *Term { return &Term{kind: Str, str: s} })
}

// NewPath interns a filesystem path literal.
func (a *Arena) NewPath(s string) *Term {
	return a.intern(scalarKey(Path, s, false, 0, 0), func() *Term { return &Term{kind: Path, str: s} })
}

// NewUri interns a URI literal.
func (a *Arena) NewUri(s string) *Term {
	return a.intern(scalarKey(Uri, s, false, 0, 0), func() *Term { return &Term{kind: Uri, str: s} })
}

// NewBool interns a boolean scalar.
func (a *Arena) NewBool(b bool) *Term {
	return a.intern(scalarKey(Bool, "", b, 0, 0), func() *Term { return &Term{kind: Bool, b: b} })
}

// NewInt interns an integer scalar.
func (a *Arena) NewInt(i int64) *Term {
	return a.intern(scalarKey(Int, "", false, i, 0), func() *Term { return &Term{kind: Int, i: i} })
}

// NewFloat interns a floating-point scalar.
func (a *Arena) NewFloat(f float64) *Term {
	return a.intern(scalarKey(Float, "", false, 0, f), func() *Term { return &Term{kind: Float, f: f} })
}

// NewVar interns a free variable reference.
func (a *Arena) NewVar(name string) *Term {
	return a.intern(scalarKey(Var, name, false, 0, 0), func() *Term { return &Term{kind: Var, str: name} })
}

// NewDerivation interns a sentinel holding the store path of a previously
// assembled derivation descriptor.
func (a *Arena) NewDerivation(storePath string) *Term {
	return a.intern(scalarKey(Derivation, storePath, false, 0, 0), func() *Term { return &Term{kind: Derivation, str: storePath} })
}

// NewFunction interns a closed function value.
func (a *Arena) NewFunction(formals []string, body *Term) *Term {
	var key strings.Builder
	fmt.Fprintf(&key, "%d|%v|%s", Function, formals, ptrKey(body))
	return a.intern(key.String(), func() *Term {
		return &Term{kind: Function, formals: append([]string(nil), formals...), children: []*Term{body}}
	})
}

// NewCall interns a function application.
func (a *Arena) NewCall(f, arg *Term) *Term {
	key := fmt.Sprintf("%d|%s|%s", Call, ptrKey(f), ptrKey(arg))
	return a.intern(key, func() *Term { return &Term{kind: Call, children: []*Term{f, arg}} })
}

// NewSelect interns an attribute access.
func (a *Arena) NewSelect(e *Term, name string) *Term {
	key := fmt.Sprintf("%d|%s|%q", Select, ptrKey(e), name)
	return a.intern(key, func() *Term { return &Term{kind: Select, str: name, children: []*Term{e}} })
}

// NewList interns an ordered sequence.
func (a *Arena) NewList(elems []*Term) *Term {
	var key strings.Builder
	fmt.Fprintf(&key, "%d|%d", List, len(elems))
	for _, e := range elems {
		key.WriteByte('|')
		key.WriteString(ptrKey(e))
	}
	return a.intern(key.String(), func() *Term {
		return &Term{kind: List, children: append([]*Term(nil), elems...)}
	})
}

// NewIf interns a conditional.
func (a *Arena) NewIf(c, t, e *Term) *Term {
	key := fmt.Sprintf("%d|%s|%s|%s", If, ptrKey(c), ptrKey(t), ptrKey(e))
	return a.intern(key, func() *Term { return &Term{kind: If, children: []*Term{c, t, e}} })
}

// NewHasSubstr interns the ad hoc string-matching form described in §4.E as
// a primop dispatched by tag rather than by name.
func (a *Arena) NewHasSubstr(haystack, needle *Term) *Term {
	key := fmt.Sprintf("%d|%s|%s", HasSubstr, ptrKey(haystack), ptrKey(needle))
	return a.intern(key, func() *Term {
		return &Term{kind: HasSubstr, children: []*Term{haystack, needle}}
	})
}

// NewPlatform interns the nullary constant that reduces to the configured
// platform tag (§4.E, §6 "this-system").
func (a *Arena) NewPlatform() *Term {
	return a.intern(scalarKey(Platform, "", false, 0, 0), func() *Term { return &Term{kind: Platform} })
}

func sortedBindings(bindings map[string]*Term) []Binding {
	out := make([]Binding, 0, len(bindings))
	for name, v := range bindings {
		out = append(out, Binding{Name: name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func bindingsKey(kind Kind, bindings []Binding) string {
	var key strings.Builder
	fmt.Fprintf(&key, "%d|%d", kind, len(bindings))
	for _, b := range bindings {
		key.WriteByte('|')
		key.WriteString(b.Name)
		key.WriteByte('=')
		key.WriteString(ptrKey(b.Value))
	}
	return key.String()
}

// NewAttrs interns an attribute set whose bindings are already normal-form
// thunks (each value may itself be unevaluated and addressed lazily by
// [Arena.NewSelect]).
func (a *Arena) NewAttrs(bindings map[string]*Term) *Term {
	sorted := sortedBindings(bindings)
	return a.intern(bindingsKey(Attrs, sorted), func() *Term {
		return &Term{kind: Attrs, bindings: sorted}
	})
}

// NewAttrsSorted is like [Arena.NewAttrs] but accepts bindings that are
// already sorted by name, avoiding a redundant sort for callers (such as the
// evaluator's rec expansion) that build bindings in order.
func (a *Arena) NewAttrsSorted(bindings []Binding) *Term {
	return a.intern(bindingsKey(Attrs, bindings), func() *Term {
		return &Term{kind: Attrs, bindings: append([]Binding(nil), bindings...)}
	})
}

// NewRec interns a recursive attribute set.
func (a *Arena) NewRec(bindings map[string]*Term) *Term {
	sorted := sortedBindings(bindings)
	return a.intern(bindingsKey(Rec, sorted), func() *Term {
		return &Term{kind: Rec, bindings: sorted}
	})
}

// NewLetRec interns a let-rec expression, sugar for
// Select(Rec(bindings), "body").
func (a *Arena) NewLetRec(bindings map[string]*Term) *Term {
	sorted := sortedBindings(bindings)
	return a.intern(bindingsKey(LetRec, sorted), func() *Term {
		return &Term{kind: LetRec, bindings: sorted}
	})
}

// IsNormalForm reports whether t's root constructor is already in normal
// form regardless of the state of its children (invariant 3: no reducible
// redex at the root).
func (t *Term) IsNormalForm() bool {
	switch t.kind {
	case Str, Path, Uri, Bool, Int, Float, Function, Attrs, List, Derivation:
		return true
	default:
		// Var, Call, Select, Rec, LetRec, If, HasSubstr, and Platform all
		// have a reducible redex at the root. This package knows no primop
		// names, so it reports false for every Var, including one naming a
		// primop, which the evaluator itself returns unchanged.
		return false
	}
}

// AttrsMap copies the bindings of an Attrs/Rec/LetRec term into a map, for
// callers that need membership tests keyed by name rather than ordered
// iteration.
func AttrsMap(t *Term) map[string]*Term {
	m := make(map[string]*Term, len(t.bindings))
	for _, b := range t.bindings {
		m[b.Name] = b.Value
	}
	return m
}
