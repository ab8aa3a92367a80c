// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package parser

import (
	"testing"

	"fix.alekseev.dev/core/internal/coreerr"
	"fix.alekseev.dev/core/term"
)

func parse(t *testing.T, a *term.Arena, src string) *term.Term {
	t.Helper()
	e, err := Parse(a, src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return e
}

func TestParseLiterals(t *testing.T) {
	a := term.NewArena()
	cases := []struct {
		src  string
		want *term.Term
	}{
		{`"hello"`, a.NewStr("hello")},
		{`true`, a.NewBool(true)},
		{`false`, a.NewBool(false)},
		{`42`, a.NewInt(42)},
		{`1.5`, a.NewFloat(1.5)},
		{`./foo/bar`, a.NewPath("./foo/bar")},
		{`/foo/bar`, a.NewPath("/foo/bar")},
		{`https://example.com/x`, a.NewUri("https://example.com/x")},
	}
	for _, c := range cases {
		got := parse(t, a, c.src)
		if got != c.want {
			t.Errorf("Parse(%q) = %v, want %v", c.src, got, c.want)
		}
	}
}

func TestParseApplication(t *testing.T) {
	a := term.NewArena()
	got := parse(t, a, `f { x = 1; }`)
	want := a.NewCall(a.NewVar("f"), a.NewAttrs(map[string]*term.Term{"x": a.NewInt(1)}))
	if got != want {
		t.Errorf("Parse(%q) = %v, want %v", `f { x = 1; }`, got, want)
	}
}

func TestParseLambdaAndCall(t *testing.T) {
	a := term.NewArena()
	got := parse(t, a, `({x, y}: x) { x = 1; y = 2; }`)
	fn := a.NewFunction([]string{"x", "y"}, a.NewVar("x"))
	want := a.NewCall(fn, a.NewAttrs(map[string]*term.Term{"x": a.NewInt(1), "y": a.NewInt(2)}))
	if got != want {
		t.Errorf("Parse lambda+call = %v, want %v", got, want)
	}
}

func TestParseEmptyLambdaVsEmptyAttrs(t *testing.T) {
	a := term.NewArena()
	lam := parse(t, a, `{}: 1`)
	if lam.Kind() != term.Function {
		t.Fatalf("Parse(%q).Kind() = %v, want Function", `{}: 1`, lam.Kind())
	}
	attrs := parse(t, a, `{}`)
	if attrs.Kind() != term.Attrs {
		t.Fatalf("Parse(%q).Kind() = %v, want Attrs", `{}`, attrs.Kind())
	}
}

func TestParseRec(t *testing.T) {
	a := term.NewArena()
	got := parse(t, a, `rec { a = 1; b = a; }`)
	if got.Kind() != term.Rec {
		t.Fatalf("Parse(rec {...}).Kind() = %v, want Rec", got.Kind())
	}
	bindings := got.Bindings()
	if len(bindings) != 2 || bindings[0].Name != "a" || bindings[1].Name != "b" {
		t.Errorf("Bindings() = %v, want sorted [a b]", bindings)
	}
}

func TestParseSelectChain(t *testing.T) {
	a := term.NewArena()
	got := parse(t, a, `a.b.c`)
	want := a.NewSelect(a.NewSelect(a.NewVar("a"), "b"), "c")
	if got != want {
		t.Errorf("Parse(a.b.c) = %v, want %v", got, want)
	}
}

func TestParseIf(t *testing.T) {
	a := term.NewArena()
	got := parse(t, a, `if true then 1 else 2`)
	want := a.NewIf(a.NewBool(true), a.NewInt(1), a.NewInt(2))
	if got != want {
		t.Errorf("Parse(if...) = %v, want %v", got, want)
	}
}

func TestParseLetDesugarsToLetRecWithBodyKey(t *testing.T) {
	a := term.NewArena()
	got := parse(t, a, `let x = 1; in x`)
	if got.Kind() != term.LetRec {
		t.Fatalf("Parse(let...in...).Kind() = %v, want LetRec", got.Kind())
	}
	bindings := got.Bindings()
	names := make(map[string]*term.Term, len(bindings))
	for _, b := range bindings {
		names[b.Name] = b.Value
	}
	if _, ok := names["body"]; !ok {
		t.Fatalf("LetRec bindings %v missing hardcoded %q key", bindings, "body")
	}
	if names["body"] != a.NewVar("x") {
		t.Errorf(`LetRec bindings["body"] = %v, want Var(x)`, names["body"])
	}
	if names["x"] != a.NewInt(1) {
		t.Errorf(`LetRec bindings["x"] = %v, want Int(1)`, names["x"])
	}
}

func TestParseSelfReferentialLet(t *testing.T) {
	a := term.NewArena()
	// let x = x; in x must parse successfully; whether it diverges is an
	// evaluator concern, not a parser one.
	got := parse(t, a, `let x = x; in x`)
	if got.Kind() != term.LetRec {
		t.Fatalf("Parse(let x = x; in x).Kind() = %v, want LetRec", got.Kind())
	}
}

func TestParseReservedBodyNameRejected(t *testing.T) {
	a := term.NewArena()
	_, err := Parse(a, `let body = 1; in body`)
	if !coreerr.Is(err, coreerr.ParseError) {
		t.Fatalf("Parse(let body = ...) error = %v, want ParseError", err)
	}
}

func TestParseList(t *testing.T) {
	a := term.NewArena()
	got := parse(t, a, `[1 2 "three"]`)
	want := a.NewList([]*term.Term{a.NewInt(1), a.NewInt(2), a.NewStr("three")})
	if got != want {
		t.Errorf("Parse([1 2 \"three\"]) = %v, want %v", got, want)
	}
}

func TestParseMinimalDerivationSurfaceForm(t *testing.T) {
	a := term.NewArena()
	src := `derivation {
		name = "hello";
		system = "x86_64-linux";
		builder = /bin/sh;
		args = ["-c" "echo hi"];
	}`
	got := parse(t, a, src)
	if got.Kind() != term.Call {
		t.Fatalf("Parse(derivation {...}).Kind() = %v, want Call", got.Kind())
	}
	if got.CallFunc() != a.NewVar("derivation") {
		t.Errorf("CallFunc() = %v, want Var(derivation)", got.CallFunc())
	}
	argAttrs := got.CallArg()
	if argAttrs.Kind() != term.Attrs {
		t.Fatalf("CallArg().Kind() = %v, want Attrs", argAttrs.Kind())
	}
	if v, ok := argAttrs.Lookup("name"); !ok || v != a.NewStr("hello") {
		t.Errorf(`Lookup("name") = (%v, %t), want (Str(hello), true)`, v, ok)
	}
}

func TestParseErrorReportsPosition(t *testing.T) {
	a := term.NewArena()
	_, err := Parse(a, "{ x = ; }")
	if !coreerr.Is(err, coreerr.ParseError) {
		t.Fatalf("error = %v, want ParseError", err)
	}
	ce, ok := err.(*coreerr.Error)
	if !ok {
		t.Fatalf("error type = %T, want *coreerr.Error", err)
	}
	if ce.Pos == "" {
		t.Error("ParseError has empty Pos")
	}
}

func TestParseUnterminatedString(t *testing.T) {
	a := term.NewArena()
	_, err := Parse(a, `"unterminated`)
	if !coreerr.Is(err, coreerr.ParseError) {
		t.Fatalf("error = %v, want ParseError", err)
	}
}
