// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package term

import "testing"

func TestSubstituteVar(t *testing.T) {
	a := NewArena()
	v := a.NewInt(41)
	got := Substitute(map[string]*Term{"x": v}, a.NewVar("x"))
	if got != v {
		t.Errorf("Substitute({x -> 41}, Var(x)) = %v, want %v", got, v)
	}
	untouched := a.NewVar("y")
	if got := Substitute(map[string]*Term{"x": v}, untouched); got != untouched {
		t.Errorf("Substitute({x -> 41}, Var(y)) = %v, want Var(y) unchanged", got)
	}
}

func TestSubstituteDoesNotCaptureFunction(t *testing.T) {
	a := NewArena()
	// (x: x) should be unaffected by a substitution for x, since the inner
	// x is bound by the formal, not free.
	body := a.NewVar("x")
	fn := a.NewFunction([]string{"x"}, body)
	got := Substitute(map[string]*Term{"x": a.NewInt(99)}, fn)
	if got != fn {
		t.Errorf("Substitute({x -> 99}, (x: x)) = %v, want unchanged %v", got, fn)
	}
}

func TestSubstituteDoesNotCaptureRec(t *testing.T) {
	a := NewArena()
	rec := a.NewRec(map[string]*Term{
		"a": a.NewVar("a"),
	})
	got := Substitute(map[string]*Term{"a": a.NewInt(7)}, rec)
	if got != rec {
		t.Errorf("Substitute({a -> 7}, rec{a=a}) = %v, want unchanged %v", got, rec)
	}
}

func TestSubstituteHasSubstrAndPlatform(t *testing.T) {
	a := NewArena()
	plat := a.NewPlatform()
	if got := Substitute(map[string]*Term{"x": a.NewInt(1)}, plat); got != plat {
		t.Errorf("Substitute into Platform = %v, want unchanged", got)
	}
	hs := a.NewHasSubstr(a.NewVar("x"), a.NewStr("a"))
	got := Substitute(map[string]*Term{"x": a.NewStr("cab")}, hs)
	if got == hs {
		t.Fatal("Substitute into HasSubstr left it unchanged")
	}
	if got.HasSubstrHaystack().Text() != "cab" {
		t.Errorf("substituted HasSubstr haystack = %v, want Str(cab)", got.HasSubstrHaystack())
	}
}

func TestSubstituteIntoFreeVariable(t *testing.T) {
	a := NewArena()
	// (x: plus y) substituted with {y -> 3} should change the body.
	fn := a.NewFunction([]string{"x"}, a.NewCall(a.NewVar("plus"), a.NewVar("y")))
	got := Substitute(map[string]*Term{"y": a.NewInt(3)}, fn)
	if got == fn {
		t.Fatal("Substitute({y -> 3}, (x: plus y)) left the function unchanged")
	}
	if got.Kind() != Function {
		t.Fatalf("Substitute result kind = %v, want Function", got.Kind())
	}
	call := got.Body()
	if call.CallArg() != a.NewInt(3) {
		t.Errorf("substituted call argument = %v, want Int(3)", call.CallArg())
	}
}
