// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package cycle implements §4.H: scanning a materialized output tree for
// embedded references to a candidate set of store paths, and joining the
// raw per-file hits into multiedges so a user sees a full reference chain
// rather than just "cycle detected".
package cycle

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"fix.alekseev.dev/core/internal/coreerr"
	"fix.alekseev.dev/core/sortedset"
	"fix.alekseev.dev/core/store"
)

// Edge is an ordered sequence of path strings: "file at element i contains
// an embedded reference to the store path owning element i+1".
type Edge []string

// Scan walks root and reports one edge per (file, hash) pair whose content
// literally contains the hash part of a path in refs. The store prefix
// each edge's target is rendered against is root's own parent directory,
// since refs are always siblings of root under the same store directory.
func Scan(root string, refs *sortedset.Set[store.Path]) ([]Edge, error) {
	storePrefix := filepath.Dir(root) + string(filepath.Separator)
	hashToTarget := make(map[string]string, refs.Len())
	for p := range refs.All() {
		h := p.Hash()
		hashToTarget[h] = storePrefix + h
	}

	var edges []Edge
	if err := walk(root, root, hashToTarget, &edges); err != nil {
		return nil, err
	}
	return edges, nil
}

// walk recurses through realPath, recording discoveries against
// displayPath (the two differ only in naming, never in structure, but
// kept distinct so a caller could scan under a temporary mount point while
// reporting the caller-facing path).
func walk(displayPath, realPath string, hashToTarget map[string]string, edges *[]Edge) error {
	info, err := os.Lstat(realPath)
	if err != nil {
		return coreerr.Wrap(coreerr.StoreError, realPath, err)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(realPath)
		if err != nil {
			return coreerr.Wrap(coreerr.StoreError, realPath, err)
		}
		scanBytes(displayPath, []byte(target), hashToTarget, edges)
		return nil

	case info.IsDir():
		entries, err := os.ReadDir(realPath)
		if err != nil {
			return coreerr.Wrap(coreerr.StoreError, realPath, err)
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		sort.Strings(names)
		for _, name := range names {
			if err := walk(displayPath+"/"+name, filepath.Join(realPath, name), hashToTarget, edges); err != nil {
				return err
			}
		}
		return nil

	case info.Mode().IsRegular():
		data, err := os.ReadFile(realPath)
		if err != nil {
			return coreerr.Wrap(coreerr.StoreError, realPath, err)
		}
		scanBytes(displayPath, data, hashToTarget, edges)
		return nil

	default:
		return coreerr.At(coreerr.UnsupportedFileType, displayPath, "unsupported file type")
	}
}

// scanBytes records at most one edge per (file, hash) pair, in
// deterministic hash order, matching every hash whose bytes literally
// occur in data.
func scanBytes(displayPath string, data []byte, hashToTarget map[string]string, edges *[]Edge) {
	hashes := make([]string, 0, len(hashToTarget))
	for h := range hashToTarget {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	for _, h := range hashes {
		if bytes.Contains(data, []byte(h)) {
			*edges = append(*edges, Edge{displayPath, hashToTarget[h]})
		}
	}
}
