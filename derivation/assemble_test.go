// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package derivation

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/nix"

	"fix.alekseev.dev/core/sortedset"
	"fix.alekseev.dev/core/store"
	"fix.alekseev.dev/core/term"
)

// fakeState is a minimal [State] sufficient to exercise Assemble end to end
// against a real [store.LocalStore].
type fakeState struct {
	st store.Store

	mu        sync.Mutex
	drvHashes map[store.Path]nix.Hash
	rootCache map[store.Path]*sortedset.Set[store.Path]
}

func newFakeState(t *testing.T) *fakeState {
	t.Helper()
	s, err := store.Open(store.Options{Dir: filepath.Join(t.TempDir(), "store")})
	if err != nil {
		t.Fatal(err)
	}
	return &fakeState{
		st:        s,
		drvHashes: make(map[store.Path]nix.Hash),
		rootCache: make(map[store.Path]*sortedset.Set[store.Path]),
	}
}

func (f *fakeState) Store() store.Store { return f.st }

func (f *fakeState) DrvHash(path store.Path) (nix.Hash, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.drvHashes[path]
	return h, ok
}

func (f *fakeState) SetDrvHash(path store.Path, h nix.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drvHashes[path] = h
}

func (f *fakeState) CachedExprRoots(ctx context.Context, drvPath store.Path) (*sortedset.Set[store.Path], error) {
	f.mu.Lock()
	if roots, ok := f.rootCache[drvPath]; ok {
		f.mu.Unlock()
		return roots, nil
	}
	f.mu.Unlock()

	roots, err := f.st.NixExprRoots(ctx, drvPath)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.rootCache[drvPath] = roots
	f.mu.Unlock()
	return roots, nil
}

func identityEval(t *term.Term) (*term.Term, error) { return t, nil }

func TestAssembleMinimalDerivation(t *testing.T) {
	ctx := context.Background()
	st := newFakeState(t)
	a := term.NewArena()

	args := a.NewAttrs(map[string]*term.Term{
		"name":    a.NewStr("x"),
		"system":  a.NewStr("X"),
		"builder": a.NewStr("/b"),
	})

	result, err := Assemble(ctx, st, identityEval, args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind() != term.Attrs {
		t.Fatalf("Assemble result kind = %v, want Attrs", result.Kind())
	}
	typ, ok := result.Lookup("type")
	if !ok || typ.Text() != "derivation" {
		t.Errorf("result[type] = %v, want Str(derivation)", typ)
	}
	drvPath, ok := result.Lookup("drvPath")
	if !ok || drvPath.Kind() != term.Path {
		t.Fatalf("result missing drvPath")
	}
	outPath, ok := result.Lookup("outPath")
	if !ok || outPath.Kind() != term.Path {
		t.Fatalf("result missing outPath")
	}

	valid, err := st.st.IsValidPath(ctx, store.Path(drvPath.StorePath()))
	if err != nil {
		t.Fatal(err)
	}
	if !valid {
		t.Errorf("drvPath %s was not written to the store", drvPath.StorePath())
	}
}

func TestAssembleMissingRequiredField(t *testing.T) {
	ctx := context.Background()
	st := newFakeState(t)
	a := term.NewArena()

	args := a.NewAttrs(map[string]*term.Term{
		"name": a.NewStr("x"),
	})
	if _, err := Assemble(ctx, st, identityEval, args); err == nil {
		t.Fatal("Assemble with missing builder/system succeeded, want error")
	}
}

func TestAssembleDeterministicAcrossRuns(t *testing.T) {
	ctx := context.Background()
	a := term.NewArena()
	args := a.NewAttrs(map[string]*term.Term{
		"name":    a.NewStr("x"),
		"system":  a.NewStr("X"),
		"builder": a.NewStr("/b"),
	})

	st1 := newFakeState(t)
	r1, err := Assemble(ctx, st1, identityEval, args)
	if err != nil {
		t.Fatal(err)
	}
	// The second run reopens the first run's store directory: the store
	// directory is part of every store path's digest, so only runs over the
	// same directory can produce the same drvPath.
	st2 := newFakeState(t)
	reopened, err := store.Open(store.Options{Dir: st1.st.Dir()})
	if err != nil {
		t.Fatal(err)
	}
	st2.st = reopened
	r2, err := Assemble(ctx, st2, identityEval, args)
	if err != nil {
		t.Fatal(err)
	}
	d1, _ := r1.Lookup("drvPath")
	d2, _ := r2.Lookup("drvPath")
	if filepath.Base(d1.StorePath()) != filepath.Base(d2.StorePath()) {
		t.Errorf("two runs over the same descriptor produced different drvPaths: %s vs %s", d1.StorePath(), d2.StorePath())
	}
}

func TestAssembleRejectsNonAttrs(t *testing.T) {
	a := term.NewArena()
	if _, err := Assemble(context.Background(), newFakeState(t), identityEval, a.NewInt(1)); err == nil {
		t.Fatal("Assemble on a non-Attrs argument succeeded, want error")
	}
}

func TestAssembleCopiesPathInput(t *testing.T) {
	ctx := context.Background()
	st := newFakeState(t)
	a := term.NewArena()

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "script.sh")
	writeFile(t, src, "#!/bin/sh\ntrue\n")

	args := a.NewAttrs(map[string]*term.Term{
		"name":    a.NewStr("x"),
		"system":  a.NewStr("X"),
		"builder": a.NewStr("/b"),
		"script":  a.NewPath(src),
	})
	result, err := Assemble(ctx, st, identityEval, args)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := result.Lookup("drvPath"); !ok {
		t.Fatal("result missing drvPath")
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}
