// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package derivation implements the derivation assembler and canonical
// descriptor serialization of §4.G: turning a fully-elaborated attribute set
// into a content-addressed descriptor written to the store, and the
// "closure atom" descriptor produced when a bare filesystem path is copied
// into the store as an input (§4.G binding coercion, Path case).
package derivation

import (
	"sort"

	"zombiezen.com/go/nix"

	"fix.alekseev.dev/core/internal/canon"
)

// Variant distinguishes the two descriptor shapes a stored term can take.
type Variant int

// Defined variants.
const (
	DerivationVariant Variant = iota
	ClosureVariant
)

func (v Variant) String() string {
	if v == ClosureVariant {
		return "Closure"
	}
	return "Derivation"
}

// Descriptor is the canonical, content-addressed description of either a
// build step (DerivationVariant) or a single copied filesystem atom
// (ClosureVariant). Two Descriptors that compare equal after sorting their
// Outputs and Inputs serialize to byte-identical text (§4.G "canonical
// serialization").
type Descriptor struct {
	Variant  Variant
	Outputs  []string
	Inputs   []string
	Platform string
	Builder  string
	Args     []string
	Env      map[string]string
}

// NewClosure returns the descriptor recorded for a bare filesystem path
// copied into the store: its only root is storePath itself, and it
// declares no further inputs.
func NewClosure(storePath string) Descriptor {
	return Descriptor{Variant: ClosureVariant, Outputs: []string{storePath}}
}

// MarshalCanon renders d in the canonical textual form described by §4.G:
// outputs before inputs, each sorted; env entries in sorted-key order; args
// in input order. Two Descriptors with the same logical content always
// produce the same bytes, regardless of the order their fields were built
// up in.
func (d Descriptor) MarshalCanon() []byte {
	outputs := sortedCopy(d.Outputs)
	inputs := sortedCopy(d.Inputs)

	var buf []byte
	buf = append(buf, d.Variant.String()...)
	buf = append(buf, '(')
	buf = appendStringList(buf, outputs)
	buf = append(buf, ',')
	buf = appendStringList(buf, inputs)
	if d.Variant == DerivationVariant {
		buf = append(buf, ',')
		buf = canon.AppendString(buf, d.Platform)
		buf = append(buf, ',')
		buf = canon.AppendString(buf, d.Builder)
		buf = append(buf, ',')
		buf = appendStringList(buf, d.Args)
		buf = append(buf, ',')
		buf = appendEnv(buf, d.Env)
	}
	buf = append(buf, ')')
	return buf
}

func sortedCopy(items []string) []string {
	out := make([]string, len(items))
	copy(out, items)
	sort.Strings(out)
	return out
}

func appendStringList(buf []byte, items []string) []byte {
	buf = append(buf, '[')
	for i, s := range items {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = canon.AppendString(buf, s)
	}
	buf = append(buf, ']')
	return buf
}

func appendEnv(buf []byte, env map[string]string) []byte {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf = append(buf, '[')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '(')
		buf = canon.AppendString(buf, k)
		buf = append(buf, ',')
		buf = canon.AppendString(buf, env[k])
		buf = append(buf, ')')
	}
	buf = append(buf, ']')
	return buf
}

// Hash returns the SHA-256 hash of d's canonical serialization. This is the
// "normalized content hash" of §4.G step 3 when d.Inputs has already been
// replaced by each input's cached storage hash, and the basis of the
// descriptor's store path name.
func Hash(d Descriptor) nix.Hash {
	h := nix.NewHasher(nix.SHA256)
	h.Write(d.MarshalCanon())
	return h.SumHash()
}
