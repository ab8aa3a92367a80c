// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package term

import "testing"

func TestInterning(t *testing.T) {
	a := NewArena()
	s1 := a.NewStr("hello")
	s2 := a.NewStr("hello")
	if s1 != s2 {
		t.Errorf("NewStr(%q) returned distinct pointers on repeated calls", "hello")
	}

	f1 := a.NewFunction([]string{"x"}, a.NewVar("x"))
	f2 := a.NewFunction([]string{"x"}, a.NewVar("x"))
	if f1 != f2 {
		t.Error("structurally identical Function terms were not interned to the same pointer")
	}

	c1 := a.NewCall(a.NewVar("f"), s1)
	c2 := a.NewCall(a.NewVar("f"), s2)
	if c1 != c2 {
		t.Error("structurally identical Call terms were not interned to the same pointer")
	}
}

func TestAttrsLookup(t *testing.T) {
	a := NewArena()
	attrs := a.NewAttrs(map[string]*Term{
		"b": a.NewInt(2),
		"a": a.NewInt(1),
	})
	if got := attrs.Bindings(); len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Errorf("Bindings() = %v, want sorted [a b]", got)
	}
	v, ok := attrs.Lookup("a")
	if !ok || v.Int() != 1 {
		t.Errorf("Lookup(%q) = (%v, %t), want (Int(1), true)", "a", v, ok)
	}
	if _, ok := attrs.Lookup("missing"); ok {
		t.Error("Lookup(\"missing\") unexpectedly found a binding")
	}
}

func TestIsNormalForm(t *testing.T) {
	a := NewArena()
	normal := []*Term{
		a.NewStr("s"), a.NewPath("/p"), a.NewUri("u:x"), a.NewBool(true),
		a.NewInt(1), a.NewFloat(1.5), a.NewFunction(nil, a.NewInt(0)),
		a.NewAttrs(nil), a.NewList(nil), a.NewDerivation("/store/h-x"),
	}
	for _, term := range normal {
		if !term.IsNormalForm() {
			t.Errorf("%v.IsNormalForm() = false, want true", term)
		}
	}
	notNormal := []*Term{
		a.NewVar("x"),
		a.NewCall(a.NewVar("f"), a.NewInt(0)),
		a.NewSelect(a.NewAttrs(nil), "x"),
		a.NewRec(nil),
		a.NewIf(a.NewBool(true), a.NewInt(1), a.NewInt(2)),
		a.NewHasSubstr(a.NewStr("ab"), a.NewStr("a")),
		a.NewPlatform(),
	}
	for _, term := range notNormal {
		if term.IsNormalForm() {
			t.Errorf("%v.IsNormalForm() = true, want false", term)
		}
	}
}
