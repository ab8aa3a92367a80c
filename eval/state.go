// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package eval implements the evaluator core: reducing a [term.Term] to
// normal form under a mutable [State], with memoization and black-hole
// detection, plus the primop table and the derivation-instantiation bridge.
package eval

import (
	"context"
	"sync"

	"zombiezen.com/go/nix"

	"fix.alekseev.dev/core/derivation"
	"fix.alekseev.dev/core/sortedset"
	"fix.alekseev.dev/core/store"
	"fix.alekseev.dev/core/term"
)

// memoState discriminates a memo table entry: in progress (the black-hole
// sentinel) versus a completed reduction.
type memoState int

const (
	inProgress memoState = iota
	done
)

type memoEntry struct {
	state memoState
	value *term.Term
}

// Stats reports the evaluator's telemetry counters (§3, supplemented
// feature: exposed the way fix-ng's printEvalStats does).
type Stats struct {
	Evaluated int
	Cached    int
}

// State is the evaluator's mutable context: the term arena, the store
// backing `derivation`/`import`, and the caches that make evaluation of a
// term graph with sharing cost proportional to its node count rather than
// its unfolding. A State is owned by one driver at a time (§5): none of its
// fields are safe for concurrent mutation, beyond the locking the arena
// itself already does for interning. State implements [derivation.State].
type State struct {
	Arena      *term.Arena
	SearchDirs []string
	Platform   string

	store store.Store

	mu             sync.Mutex
	memo           map[*term.Term]*memoEntry
	drvHashes      map[store.Path]nix.Hash
	exprRootsCache map[store.Path]*sortedset.Set[store.Path]

	stats Stats
}

// NewState constructs an evaluator state backed by st, rooted at arena,
// searching searchDirs for relative `import` targets and reporting
// platform as the value of the Platform primop.
func NewState(arena *term.Arena, st store.Store, searchDirs []string, platform string) *State {
	return &State{
		Arena:          arena,
		store:          st,
		SearchDirs:     append([]string(nil), searchDirs...),
		Platform:       platform,
		memo:           make(map[*term.Term]*memoEntry),
		drvHashes:      make(map[store.Path]nix.Hash),
		exprRootsCache: make(map[store.Path]*sortedset.Set[store.Path]),
	}
}

// Store returns the content-addressed store this state evaluates against,
// implementing [derivation.State].
func (s *State) Store() store.Store { return s.store }

// Stats returns a snapshot of the evaluator's telemetry counters.
func (s *State) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// DrvHash implements [derivation.State].
func (s *State) DrvHash(path store.Path) (nix.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.drvHashes[path]
	return h, ok
}

// SetDrvHash implements [derivation.State].
func (s *State) SetDrvHash(path store.Path, h nix.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drvHashes[path] = h
}

// CachedExprRoots implements [derivation.State], querying the store once
// per drvPath and reusing the result for every subsequent binding that
// references the same input.
func (s *State) CachedExprRoots(ctx context.Context, drvPath store.Path) (*sortedset.Set[store.Path], error) {
	s.mu.Lock()
	if roots, ok := s.exprRootsCache[drvPath]; ok {
		s.mu.Unlock()
		return roots, nil
	}
	s.mu.Unlock()

	roots, err := s.store.NixExprRoots(ctx, drvPath)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.exprRootsCache[drvPath] = roots
	s.mu.Unlock()
	return roots, nil
}

var _ derivation.State = (*State)(nil)
