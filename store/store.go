// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"zombiezen.com/go/log"
	"zombiezen.com/go/nix"

	"fix.alekseev.dev/core/internal/canon"
	"fix.alekseev.dev/core/sortedset"
)

// Store is the content-addressed backing store required by the derivation
// assembler (§4.G) and the cycle scanner (§4.H). Implementations are
// expected to make writes atomic (temp-file-plus-rename on POSIX
// filesystems, or the local equivalent) so that concurrent readers never
// observe a partially written store object.
type Store interface {
	// AddToStore ingests the file or directory tree at sourcePath and
	// returns its content-addressed path. Idempotent.
	AddToStore(ctx context.Context, sourcePath string, recursive bool) (Path, error)

	// WriteTerm atomically writes the given bytes under a path derived from
	// h, kind, and name, and returns that path. Idempotent: a second call
	// with the same arguments returns the same path without rewriting.
	WriteTerm(ctx context.Context, data []byte, h nix.Hash, kind, name string) (Path, error)

	// QueryAllValidPaths enumerates every valid entry in the store. The
	// result reflects a single consistent snapshot.
	QueryAllValidPaths(ctx context.Context) (*sortedset.Set[Path], error)

	// IsValidPath reports whether p names an existing store entry.
	IsValidPath(ctx context.Context, p Path) (bool, error)

	// FollowLinksToStorePath resolves p, following any chain of symbolic
	// links, into a path rooted at this store.
	FollowLinksToStorePath(ctx context.Context, p string) (Path, error)

	// AddIndirectRoot registers linkPath as a garbage-collection root
	// indirection. Idempotent.
	AddIndirectRoot(ctx context.Context, linkPath string) error

	// AddTempRoot registers p as an ephemeral root for the lifetime of the
	// calling process. Idempotent.
	AddTempRoot(ctx context.Context, p Path) error

	// NixExprRoots returns the declared output paths of the descriptor
	// stored at drvPath.
	NixExprRoots(ctx context.Context, drvPath Path) (*sortedset.Set[Path], error)

	// Dir returns the store directory this Store operates on.
	Dir() string
}

// ErrReadOnly is returned by write operations on a [LocalStore] opened with
// [Options.ReadOnly] set.
var ErrReadOnly = errors.New("store: read-only mode")

// Error wraps a failure from a Store operation, carrying enough context
// (§7 StoreError) to report a useful message without discarding the
// underlying cause.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures a [LocalStore].
type Options struct {
	// Dir is the store directory (§6 "store-dir").
	Dir string
	// ReadOnly causes write operations to fail fast with [ErrReadOnly]
	// (§6 "read-only-mode").
	ReadOnly bool
}

// LocalStore is a [Store] backed directly by a directory on the local
// filesystem. It is the reference implementation used by the evaluator's
// test suite and by the single-node `fix` CLI.
type LocalStore struct {
	dir      string
	readOnly bool

	mu        sync.Mutex
	tempRoots map[Path]struct{}
}

// Open returns a Store rooted at opts.Dir, creating the directory if it does
// not already exist, unless opts.ReadOnly is set.
func Open(opts Options) (*LocalStore, error) {
	if opts.Dir == "" {
		return nil, &Error{Op: "open", Err: errors.New("empty store directory")}
	}
	if !filepath.IsAbs(opts.Dir) {
		return nil, &Error{Op: "open", Path: opts.Dir, Err: errors.New("store directory must be absolute")}
	}
	if !opts.ReadOnly {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, &Error{Op: "open", Path: opts.Dir, Err: err}
		}
	}
	return &LocalStore{
		dir:       filepath.Clean(opts.Dir),
		readOnly:  opts.ReadOnly,
		tempRoots: make(map[Path]struct{}),
	}, nil
}

// Dir implements [Store].
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) realPath(p Path) string {
	return filepath.Join(s.dir, p.Base())
}

// AddToStore implements [Store].
func (s *LocalStore) AddToStore(ctx context.Context, sourcePath string, recursive bool) (Path, error) {
	if s.readOnly {
		return "", &Error{Op: "add-to-store", Path: sourcePath, Err: ErrReadOnly}
	}
	info, err := os.Lstat(sourcePath)
	if err != nil {
		return "", &Error{Op: "add-to-store", Path: sourcePath, Err: err}
	}

	var contents []byte
	if info.IsDir() {
		if !recursive {
			return "", &Error{Op: "add-to-store", Path: sourcePath, Err: errors.New("source is a directory but recursive copy was not requested")}
		}
		contents, err = serializeTree(sourcePath)
	} else {
		contents, err = os.ReadFile(sourcePath)
	}
	if err != nil {
		return "", &Error{Op: "add-to-store", Path: sourcePath, Err: err}
	}
	h := nix.NewHasher(nix.SHA256)
	h.Write(contents)

	name := filepath.Base(sourcePath)
	kind := "text:sha256"
	if recursive {
		kind = "source:sha256"
	}
	dst := MakePath(s.dir, kind, h.SumHash(), name)
	if err := s.writeAtomic(dst, contents); err != nil {
		return "", err
	}
	log.Debugf(ctx, "added %s to store as %s", sourcePath, dst)
	return dst, nil
}

// serializeTree produces a deterministic serialization of a directory tree:
// sorted relative paths, each paired with its mode and content. This is a
// simplified stand-in for a full archive format, sufficient to make
// AddToStore content-addressed and deterministic, but not a wire format
// external tools are expected to parse.
func serializeTree(root string) ([]byte, error) {
	type entry struct {
		rel  string
		mode fs.FileMode
		data []byte
	}
	var entries []entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			entries = append(entries, entry{rel: rel, mode: info.Mode()})
		case info.Mode().IsRegular():
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			entries = append(entries, entry{rel: rel, mode: info.Mode(), data: data})
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			entries = append(entries, entry{rel: rel, mode: info.Mode(), data: []byte(target)})
		default:
			return fmt.Errorf("unsupported file type at %s", path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	var buf []byte
	for _, e := range entries {
		buf = append(buf, []byte(fmt.Sprintf("%s:%o:%d:", e.rel, e.mode, len(e.data)))...)
		buf = append(buf, e.data...)
	}
	return buf, nil
}

// WriteTerm implements [Store].
func (s *LocalStore) WriteTerm(ctx context.Context, data []byte, h nix.Hash, kind, name string) (Path, error) {
	if s.readOnly {
		return "", &Error{Op: "write-term", Path: name, Err: ErrReadOnly}
	}
	dst := MakePath(s.dir, kind, h, name)
	if err := s.writeAtomic(dst, data); err != nil {
		return "", err
	}
	log.Debugf(ctx, "wrote term %s", dst)
	return dst, nil
}

// writeAtomic writes data to dst via a temp file in the same directory
// followed by a rename, so concurrent readers never observe a partial
// write. It is a no-op if dst already exists (writes are idempotent, since
// the path is content-addressed).
func (s *LocalStore) writeAtomic(dst Path, data []byte) error {
	realDst := s.realPath(dst)
	if _, err := os.Lstat(realDst); err == nil {
		return nil
	}
	tmp := filepath.Join(s.dir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o444); err != nil {
		return &Error{Op: "write", Path: string(dst), Err: err}
	}
	if err := os.Rename(tmp, realDst); err != nil {
		os.Remove(tmp)
		return &Error{Op: "write", Path: string(dst), Err: err}
	}
	return nil
}

// QueryAllValidPaths implements [Store].
func (s *LocalStore) QueryAllValidPaths(ctx context.Context) (*sortedset.Set[Path], error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &Error{Op: "query-all-valid-paths", Path: s.dir, Err: err}
	}
	result := new(sortedset.Set[Path])
	result.Grow(len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		result.Add(Path(filepath.Join(s.dir, e.Name())))
	}
	return result, nil
}

// IsValidPath implements [Store].
func (s *LocalStore) IsValidPath(ctx context.Context, p Path) (bool, error) {
	_, err := os.Lstat(s.realPath(p))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &Error{Op: "is-valid-path", Path: string(p), Err: err}
}

// FollowLinksToStorePath implements [Store].
func (s *LocalStore) FollowLinksToStorePath(ctx context.Context, p string) (Path, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", &Error{Op: "follow-links", Path: p, Err: err}
	}
	rel, err := filepath.Rel(s.dir, resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", &Error{Op: "follow-links", Path: p, Err: fmt.Errorf("resolves outside store %s", s.dir)}
	}
	first := rel
	if i := strings.IndexByte(rel, filepath.Separator); i >= 0 {
		first = rel[:i]
	}
	return Path(filepath.Join(s.dir, first)), nil
}

// AddIndirectRoot implements [Store].
func (s *LocalStore) AddIndirectRoot(ctx context.Context, linkPath string) error {
	if s.readOnly {
		return &Error{Op: "add-indirect-root", Path: linkPath, Err: ErrReadOnly}
	}
	rootsDir := filepath.Join(s.dir, ".gcroots")
	if err := os.MkdirAll(rootsDir, 0o755); err != nil {
		return &Error{Op: "add-indirect-root", Path: linkPath, Err: err}
	}
	abs, err := filepath.Abs(linkPath)
	if err != nil {
		return &Error{Op: "add-indirect-root", Path: linkPath, Err: err}
	}
	h := nix.NewHasher(nix.SHA256)
	h.WriteString(abs)
	link := filepath.Join(rootsDir, h.SumHash().Base16())
	if existing, err := os.Readlink(link); err == nil && existing == abs {
		return nil
	}
	os.Remove(link)
	if err := os.Symlink(abs, link); err != nil {
		return &Error{Op: "add-indirect-root", Path: linkPath, Err: err}
	}
	return nil
}

// AddTempRoot implements [Store]. Temp roots are tracked in memory for the
// lifetime of the LocalStore value; the core imposes no further semantics.
func (s *LocalStore) AddTempRoot(ctx context.Context, p Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tempRoots[p] = struct{}{}
	return nil
}

// NixExprRoots implements [Store].
func (s *LocalStore) NixExprRoots(ctx context.Context, drvPath Path) (*sortedset.Set[Path], error) {
	data, err := os.ReadFile(s.realPath(drvPath))
	if err != nil {
		return nil, &Error{Op: "nix-expr-roots", Path: string(drvPath), Err: err}
	}
	rest, ok := cutPrefix(data, "Derivation(", "Closure(")
	if !ok {
		return nil, &Error{Op: "nix-expr-roots", Path: string(drvPath), Err: errors.New("unrecognized descriptor header")}
	}
	scanner := canon.NewScanner(&byteReader{data: rest})
	items, err := canon.ReadStringList(scanner)
	if err != nil {
		return nil, &Error{Op: "nix-expr-roots", Path: string(drvPath), Err: err}
	}
	result := new(sortedset.Set[Path])
	for _, it := range items {
		result.Add(Path(it))
	}
	return result, nil
}

func cutPrefix(data []byte, prefixes ...string) ([]byte, bool) {
	for _, p := range prefixes {
		if len(data) >= len(p) && string(data[:len(p)]) == p {
			return data[len(p):], true
		}
	}
	return nil, false
}

// byteReader adapts a byte slice to io.ByteReader for [canon.NewScanner].
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// CopyClosureBatch ingests multiple source paths concurrently, returning
// their store paths in the same order. Independent sources may be copied in
// parallel since the store's write path is safe under concurrent atomic
// renames.
func CopyClosureBatch(ctx context.Context, s Store, sourcePaths []string, recursive bool) ([]Path, error) {
	result := make([]Path, len(sourcePaths))
	g, ctx := errgroup.WithContext(ctx)
	for i, src := range sourcePaths {
		i, src := i, src
		g.Go(func() error {
			p, err := s.AddToStore(ctx, src, recursive)
			if err != nil {
				return err
			}
			result[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
