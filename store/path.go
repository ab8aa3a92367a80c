// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package store implements the content-addressed store abstraction of §4.F:
// ingesting filesystem objects and serialized descriptors under a fixed
// digest scheme, and answering validity and root-tracking queries over the
// resulting store directory.
package store

import (
	"crypto/sha256"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"zombiezen.com/go/nix"
	"zombiezen.com/go/nix/nixbase32"
)

// Path is a store path of the form "<store-dir>/<hash>-<name>".
type Path string

// Dir returns the store directory component of p.
func (p Path) Dir() string {
	return filepath.Dir(string(p))
}

// Base returns the "<hash>-<name>" leaf component of p.
func (p Path) Base() string {
	return filepath.Base(string(p))
}

// Hash returns the fixed-width digest component of p's leaf name, i.e. the
// text before the first '-'.
func (p Path) Hash() string {
	base := p.Base()
	if i := strings.IndexByte(base, '-'); i >= 0 {
		return base[:i]
	}
	return base
}

// Name returns the human-readable suffix of p's leaf name, i.e. the text
// after the first '-'.
func (p Path) Name() string {
	base := p.Base()
	if i := strings.IndexByte(base, '-'); i >= 0 {
		return base[i+1:]
	}
	return ""
}

// digest computes the fixed-width, restricted-alphabet digest used to name a
// store path: a SHA-256 fingerprint of the path's "type" tag, content hash,
// store directory, and name, compressed to 20 bytes and rendered in the
// store's base-32 alphabet. This mirrors the digest scheme Nix-family stores
// use to keep store path names both content-addressed and human-readable.
func digest(storeDir, kind string, h nix.Hash, name string) string {
	hh := sha256.New()
	io.WriteString(hh, kind)
	io.WriteString(hh, ":")
	io.WriteString(hh, h.Base16())
	io.WriteString(hh, ":")
	io.WriteString(hh, storeDir)
	io.WriteString(hh, ":")
	io.WriteString(hh, name)
	sum := hh.Sum(nil)
	compressed := make([]byte, 20)
	nix.CompressHash(compressed, sum)
	return nixbase32.EncodeToString(compressed)
}

// MakePath builds the store path that a content hash and kind tag would be
// assigned under storeDir, without checking whether it exists. kind
// namespaces the digest computation (for example "output:out" for a
// derivation's default output, or "drv:sha256" for a stored descriptor) so
// that two different kinds of object never collide on the same digest for
// the same underlying hash and name.
func MakePath(storeDir, kind string, h nix.Hash, name string) Path {
	d := digest(storeDir, kind, h, name)
	if name == "" {
		return Path(fmt.Sprintf("%s/%s", storeDir, d))
	}
	return Path(fmt.Sprintf("%s/%s-%s", storeDir, d, name))
}
