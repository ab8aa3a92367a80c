// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package derivation

import (
	"context"
	"strings"

	"zombiezen.com/go/log"
	"zombiezen.com/go/nix"

	"fix.alekseev.dev/core/internal/coreerr"
	"fix.alekseev.dev/core/sortedset"
	"fix.alekseev.dev/core/store"
	"fix.alekseev.dev/core/term"
)

// Evaluator forces t to normal form, the way the engine's evaluator would.
// The assembler needs this because attribute values handed to `derivation`
// are not guaranteed to already be in normal form.
type Evaluator func(t *term.Term) (*term.Term, error)

// State is the subset of evaluator state the assembler reads and mutates:
// the store to write into, and the two caches described in §9 ("Mutable
// EvalState") that let repeated references to the same input avoid
// recomputing its hash or re-querying its declared outputs.
type State interface {
	// Store returns the content-addressed store backing this state.
	Store() store.Store

	// DrvHash returns the cached storage hash for a previously written
	// descriptor path, if any.
	DrvHash(path store.Path) (nix.Hash, bool)

	// SetDrvHash records the storage hash for a descriptor path just
	// written to the store.
	SetDrvHash(path store.Path, h nix.Hash)

	// CachedExprRoots returns the declared output paths of the descriptor
	// at drvPath, querying the store and caching the result on first use.
	CachedExprRoots(ctx context.Context, drvPath store.Path) (*sortedset.Set[store.Path], error)
}

// Assemble implements §4.G: it evaluates argsTerm's bindings, performs
// binding coercion on each value, writes the resulting descriptor to the
// store, and returns the original attribute set extended with drvPath,
// outPath, and type = "derivation".
func Assemble(ctx context.Context, st State, eval Evaluator, argsTerm *term.Term) (*term.Term, error) {
	if argsTerm.Kind() != term.Attrs {
		return nil, coreerr.At(coreerr.TypeError, "derivation", "argument must be an attribute set, got %v", argsTerm.Kind())
	}

	d := Descriptor{Variant: DerivationVariant, Env: make(map[string]string)}
	var name, outPath string
	var outHash nix.Hash
	outHashGiven := false

	for _, b := range argsTerm.Bindings() {
		if b.Name == "args" {
			v, err := eval(b.Value)
			if err != nil {
				return nil, err
			}
			if v.Kind() != term.List {
				return nil, coreerr.At(coreerr.InvalidDerivation, "args", "must evaluate to a list")
			}
			for _, elem := range v.Elems() {
				s, err := coerceBinding(ctx, st, eval, &d, elem)
				if err != nil {
					return nil, err
				}
				d.Args = append(d.Args, s)
			}
			continue
		}

		s, err := coerceBinding(ctx, st, eval, &d, b.Value)
		if err != nil {
			return nil, err
		}
		d.Env[b.Name] = s

		switch b.Name {
		case "builder":
			d.Builder = s
		case "system":
			d.Platform = s
		case "name":
			name = s
		case "outPath":
			outPath = s
		case "id":
			h, err := nix.ParseHash(s)
			if err != nil {
				return nil, coreerr.Wrap(coreerr.BadHash, "id", err)
			}
			outHash = h
			outHashGiven = true
		}
	}

	if d.Builder == "" || d.Platform == "" || name == "" {
		return nil, coreerr.New(coreerr.InvalidDerivation, "required attribute missing (need builder, system, name)")
	}

	if !outHashGiven {
		normalized, err := normalize(st, d)
		if err != nil {
			return nil, err
		}
		outHash = Hash(normalized)
	}
	if outPath == "" {
		outPath = string(store.MakePath(st.Store().Dir(), "output:out", outHash, name))
	}
	d.Env["out"] = outPath
	d.Outputs = []string{outPath}

	var storageHash nix.Hash
	if outHashGiven {
		h := nix.NewHasher(nix.SHA256)
		h.WriteString(outHash.Base16())
		h.WriteString(outPath)
		storageHash = h.SumHash()
	} else {
		normalized, err := normalize(st, d)
		if err != nil {
			return nil, err
		}
		storageHash = Hash(normalized)
	}

	data := d.MarshalCanon()
	drvPath, err := st.Store().WriteTerm(ctx, data, storageHash, "drv:sha256", "d-"+name)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.StoreError, string(drvPath), err)
	}
	st.SetDrvHash(drvPath, storageHash)
	log.Debugf(ctx, "instantiated %q -> %s", name, drvPath)

	result := make(map[string]*term.Term, len(argsTerm.Bindings())+3)
	for _, b := range argsTerm.Bindings() {
		result[b.Name] = b.Value
	}
	arena := argsTerm.Arena()
	result["outPath"] = arena.NewPath(outPath)
	result["drvPath"] = arena.NewPath(string(drvPath))
	result["type"] = arena.NewStr("derivation")
	return arena.NewAttrs(result), nil
}

// normalize returns a copy of d with Inputs replaced by each input's cached
// storage hash (§4.G step 3), the form that is actually hashed so that a
// change anywhere in an input's own content changes every descendant's
// hash, without needing to re-serialize the whole input.
func normalize(st State, d Descriptor) (Descriptor, error) {
	if len(d.Inputs) == 0 {
		return d, nil
	}
	out := d
	out.Inputs = make([]string, len(d.Inputs))
	for i, input := range d.Inputs {
		h, ok := st.DrvHash(store.Path(input))
		if !ok {
			return Descriptor{}, coreerr.At(coreerr.StoreError, input, "unknown input: no cached storage hash")
		}
		out.Inputs[i] = h.Base16()
	}
	return out, nil
}

// coerceBinding implements §4.G's binding coercion, recursively reducing a
// term to the string that belongs in an env entry or an args element,
// recording any store inputs the term introduces along the way.
func coerceBinding(ctx context.Context, st State, eval Evaluator, d *Descriptor, e *term.Term) (string, error) {
	e, err := eval(e)
	if err != nil {
		return "", err
	}

	switch e.Kind() {
	case term.Str, term.Uri:
		return e.Text(), nil
	case term.Bool:
		if e.Bool() {
			return "1", nil
		}
		return "", nil

	case term.Attrs:
		if typ, ok := e.Lookup("type"); ok {
			typ, err := eval(typ)
			if err != nil {
				return "", err
			}
			if typ.Kind() == term.Str && typ.Text() == "derivation" {
				drvPathTerm, ok := e.Lookup("drvPath")
				if !ok {
					return "", coreerr.New(coreerr.InvalidBinding, "derivation attrs missing drvPath")
				}
				drvPathTerm, err := eval(drvPathTerm)
				if err != nil {
					return "", err
				}
				if drvPathTerm.Kind() != term.Path {
					return "", coreerr.New(coreerr.InvalidBinding, "drvPath must be a path")
				}
				return addInput(ctx, st, d, store.Path(drvPathTerm.StorePath()))
			}
		}
		return "", coreerr.New(coreerr.InvalidBinding, "attribute set is not a derivation")

	case term.Path:
		drvPath, err := copyAtom(ctx, st, e.StorePath())
		if err != nil {
			return "", err
		}
		return addInput(ctx, st, d, drvPath)

	case term.List:
		var sb strings.Builder
		for i, elem := range e.Elems() {
			if i > 0 {
				sb.WriteByte(' ')
			}
			s, err := coerceBinding(ctx, st, eval, d, elem)
			if err != nil {
				return "", err
			}
			sb.WriteString(s)
		}
		return sb.String(), nil

	default:
		return "", coreerr.New(coreerr.InvalidBinding, "cannot coerce %v to a derivation binding", e.Kind())
	}
}

// addInput records drvPath as an input of d and returns the single output
// path it declares, querying (and caching) the descriptor's declared
// outputs through st.
func addInput(ctx context.Context, st State, d *Descriptor, drvPath store.Path) (string, error) {
	roots, err := st.CachedExprRoots(ctx, drvPath)
	if err != nil {
		return "", coreerr.Wrap(coreerr.StoreError, string(drvPath), err)
	}
	if roots.Len() != 1 {
		return "", coreerr.At(coreerr.InvalidBinding, string(drvPath), "expected exactly one declared output, got %d", roots.Len())
	}
	d.Inputs = append(d.Inputs, string(drvPath))
	return string(roots.At(0)), nil
}

// copyAtom ingests a bare filesystem path into the store and wraps it in a
// minimal closure descriptor, so that a plain Path binding participates in
// the same input-tracking machinery as a derivation reference.
func copyAtom(ctx context.Context, st State, srcPath string) (store.Path, error) {
	dstPath, err := st.Store().AddToStore(ctx, srcPath, true)
	if err != nil {
		return "", coreerr.Wrap(coreerr.StoreError, srcPath, err)
	}

	closure := NewClosure(string(dstPath))
	h := Hash(closure)
	drvPath, err := st.Store().WriteTerm(ctx, closure.MarshalCanon(), h, "closure:sha256", "")
	if err != nil {
		return "", coreerr.Wrap(coreerr.StoreError, srcPath, err)
	}
	st.SetDrvHash(drvPath, h)
	log.Debugf(ctx, "copied %q -> closure %s", srcPath, drvPath)
	return drvPath, nil
}

