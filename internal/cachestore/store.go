package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store is the filesystem-backed Cache Store. It owns everything under
// Dir exclusively; concurrent pipelines targeting the same directory are
// unsupported (no lock file is taken — see DESIGN.md's open-question
// decision on this).
type Store struct {
	Dir string

	mu      sync.Mutex
	touched map[string]struct{}
}

// New constructs a Store rooted at dir.
func New(dir string) *Store {
	return &Store{Dir: dir, touched: make(map[string]struct{})}
}

func (s *Store) touch(contentSignature string) {
	s.mu.Lock()
	if s.touched == nil {
		s.touched = make(map[string]struct{})
	}
	s.touched[SanitizeKey(contentSignature)] = struct{}{}
	s.mu.Unlock()
}

// TouchedSignatureDirs returns the sanitized signature-directory names
// this Store has read or written since construction, for a GC pass that
// needs to tell "referenced by the current pipeline" apart from
// "orphaned by a since-changed or removed node".
func (s *Store) TouchedSignatureDirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.touched))
	for k := range s.touched {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AllSignatureDirs lists every signature directory name currently on
// disk under Dir.
func (s *Store) AllSignatureDirs() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// RemoveSignatureDir deletes an entire signature directory (sanitized
// name, as returned by AllSignatureDirs) and everything under it.
func (s *Store) RemoveSignatureDir(dirName string) error {
	return os.RemoveAll(filepath.Join(s.Dir, dirName))
}

// SanitizeKey makes a cache key filesystem-safe: '/', '\\' and control
// characters are replaced, case is left as-is.
func SanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r == '/' || r == '\\':
			b.WriteByte('_')
		case r < 0x20 || r == 0x7f:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *Store) entryPath(contentSignature, cacheKey string) string {
	return filepath.Join(s.Dir, SanitizeKey(contentSignature), SanitizeKey(cacheKey)+".json")
}

// Get reads the entry for (contentSignature, cacheKey). A missing or
// unreadable/corrupt file is reported as (nil, nil) — cache I/O
// failures on read are treated as misses, never as errors.
func (s *Store) Get(contentSignature, cacheKey string) (*Entry, error) {
	s.touch(contentSignature)
	data, err := os.ReadFile(s.entryPath(contentSignature, cacheKey))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, nil
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, nil
	}
	return &entry, nil
}

// Put writes entry atomically (write-then-rename). I/O errors on write
// propagate and abort the node.
func (s *Store) Put(contentSignature, cacheKey string, entry *Entry) error {
	s.touch(contentSignature)
	path := s.entryPath(contentSignature, cacheKey)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cachestore: creating signature directory: %w", err)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("cachestore: marshaling entry: %w", err)
	}
	if err := writeFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("cachestore: writing entry: %w", err)
	}
	return nil
}

// BuildInput carries everything Build needs to compute a fresh entry.
type BuildInput struct {
	Items              []string
	OutputsByKey       map[string][]string
	OutputBaseDir      string
	CacheKey           string
	DiscoveredDeps     []string
	ConfigDeps         []string
	UpstreamSignatures map[string]UpstreamSignature
	NowMillis          int64
}

// Build hashes and timestamps Items and the declared deps, producing a
// fresh Entry ready to Put. Missing optional deps (discovered deps) are
// silently skipped — the next Validate will see them as missing and
// invalidate, a self-correcting behavior.
func (s *Store) Build(in BuildInput) (*Entry, error) {
	entry := &Entry{
		ItemFiles:          append([]string(nil), in.Items...),
		InputHashes:        make(map[string]string, len(in.Items)),
		InputTimestamps:    make(map[string]int64, len(in.Items)),
		OutputsByKey:       in.OutputsByKey,
		OutputBaseDir:      in.OutputBaseDir,
		ConfigDeps:         make(map[string]string, len(in.ConfigDeps)),
		UpstreamSignatures: in.UpstreamSignatures,
		CacheKey:           in.CacheKey,
		CreatedAtMillis:    in.NowMillis,
	}

	for _, item := range in.Items {
		hash, err := s.FileHash(item)
		if err != nil {
			return nil, fmt.Errorf("cachestore: hashing item %q: %w", item, err)
		}
		entry.InputHashes[item] = hash
		ts, err := mtimeMillis(item)
		if err != nil {
			return nil, fmt.Errorf("cachestore: stat item %q: %w", item, err)
		}
		entry.InputTimestamps[item] = ts
	}

	for _, dep := range in.ConfigDeps {
		hash, err := s.FileHash(dep)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // optional: missing at build time, will invalidate on validate
			}
			return nil, fmt.Errorf("cachestore: hashing config dep %q: %w", dep, err)
		}
		entry.ConfigDeps[dep] = hash
	}

	if len(in.DiscoveredDeps) > 0 {
		entry.DiscoveredDeps = make(map[string]string, len(in.DiscoveredDeps))
		for _, dep := range in.DiscoveredDeps {
			hash, err := s.FileHash(dep)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return nil, fmt.Errorf("cachestore: hashing discovered dep %q: %w", dep, err)
			}
			entry.DiscoveredDeps[dep] = hash
		}
	}

	return entry, nil
}

// UpstreamOutputs supplies a producer's current emitted paths for a given
// output key, used by Validate to check upstream signatures.
type UpstreamOutputs interface {
	NodeOutputs(producer, outputName string) ([]string, bool)
}

// Validate runs the five-check validation described in §4.1. It returns
// (true, nil) on a hit, (false, nil) on any ordinary miss, and a non-nil
// error only for conditions the caller must treat as fatal (none at
// present — all checks degrade to a miss).
func (s *Store) Validate(entry *Entry, upstream UpstreamOutputs) (bool, error) {
	// 1. outputs exist
	for _, paths := range entry.OutputsByKey {
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				return false, nil
			}
		}
	}

	// 2. input freshness, two-tier
	for _, item := range entry.ItemFiles {
		wantTS, tsOK := entry.InputTimestamps[item]
		ts, err := mtimeMillis(item)
		if err != nil {
			return false, nil
		}
		if tsOK && ts == wantTS {
			continue // fast path: unchanged
		}
		wantHash, hashOK := entry.InputHashes[item]
		hash, err := s.FileHash(item)
		if err != nil {
			return false, nil
		}
		if !hashOK || hash != wantHash {
			return false, nil
		}
	}

	// 3. config deps
	for path, wantHash := range entry.ConfigDeps {
		hash, err := s.FileHash(path)
		if err != nil || hash != wantHash {
			return false, nil
		}
	}

	// 4. discovered deps
	for path, wantHash := range entry.DiscoveredDeps {
		hash, err := s.FileHash(path)
		if err != nil || hash != wantHash {
			return false, nil
		}
	}

	// 5. upstream signatures
	for producer, sig := range entry.UpstreamSignatures {
		if upstream == nil {
			return false, nil
		}
		paths, ok := upstream.NodeOutputs(producer, sig.OutputKey)
		if !ok {
			return false, nil
		}
		filtered := paths
		if sig.Glob != "" {
			filtered = filterByGlob(paths, sig.Glob)
		}
		current := ComputeOutputSignature(filtered)
		if current != sig.Signature {
			return false, nil
		}
	}

	return true, nil
}

func filterByGlob(paths []string, pattern string) []string {
	var out []string
	for _, p := range paths {
		if ok, _ := filepath.Match(pattern, filepath.Base(p)); ok {
			out = append(out, p)
		}
	}
	return out
}

// FileHash returns the SHA-256 hex digest of path's bytes.
func (s *Store) FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CopyTo materializes a cached output at the path the current consumer
// expects, when a different node (or a prior run's layout) produced it.
func (s *Store) CopyTo(srcPath, dstPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("cachestore: reading cached artifact %q: %w", srcPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("cachestore: creating destination dir: %w", err)
	}
	if err := writeFileAtomic(dstPath, data, 0644); err != nil {
		return fmt.Errorf("cachestore: writing %q: %w", dstPath, err)
	}
	return nil
}

// ComputeOutputSignature is a stable fingerprint of an ordered path list:
// stable under identical content, and changed whenever the list changes.
func ComputeOutputSignature(paths []string) string {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	h := sha256.New()
	for _, p := range sorted {
		writeLenPrefixed(h, []byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeLenPrefixed(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lenBuf [8]byte
	n := len(b)
	for i := 0; i < 8; i++ {
		lenBuf[i] = byte(n >> (8 * i))
	}
	h.Write(lenBuf[:])
	h.Write(b)
}

// CleanExcept deletes entries under contentSignature's directory whose
// key is not in currentKeys. Called by noderuntime.Envelope.Run at the
// end of every node run to prune per-item cache keys the current item
// set no longer references; also exposed directly for an
// operator-triggered GC pass between runs (see DESIGN.md).
func (s *Store) CleanExcept(contentSignature string, currentKeys []string) error {
	dir := filepath.Join(s.Dir, SanitizeKey(contentSignature))
	keep := make(map[string]struct{}, len(currentKeys))
	for _, k := range currentKeys {
		keep[SanitizeKey(k)+".json"] = struct{}{}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if _, ok := keep[e.Name()]; ok {
			continue
		}
		_ = os.Remove(filepath.Join(dir, e.Name()))
	}
	return nil
}

func mtimeMillis(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixMilli(), nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
