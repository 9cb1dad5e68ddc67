// Package bloda reads and writes solid-block archives: directory trees
// packed into a single self-describing file, with groups of small files
// compressed together so that similar content shares a codec dictionary.
// Extraction reads only the blocks the requested entries live in.
package bloda

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/xerrors"

	"github.com/srinu427/bloda/internal/codec"
	"github.com/srinu427/bloda/internal/index"
)

// DefaultMaxInMemBlockBytes is the spill threshold used by OpenArchive:
// blocks whose compressed size exceeds it are decompressed to a temporary
// file instead of memory during extraction.
const DefaultMaxInMemBlockBytes = 16 << 20

// blockLocation is a block row with its absolute archive offset
// pre-computed.
type blockLocation struct {
	index.BlockInfo
	archiveOffset int64
}

// ArchiveReader is the hydrated index of one archive. It holds no open file
// handle; every block read reopens the archive. A reader is immutable after
// construction and safe for concurrent queries.
type ArchiveReader struct {
	path     string
	files    map[string]index.FileEntry
	leaves   map[string]struct{}
	blocks   []blockLocation
	maxInMem int64

	// blockObserver, when set, is invoked with the id of every block this
	// reader decompresses.
	blockObserver func(id int64)
}

// DirEntry is one child reported by ListDir.
type DirEntry struct {
	Name string
	Type string // "file" or "dir"
}

// OpenArchive opens the archive at path with the default spill threshold.
func OpenArchive(path string) (*ArchiveReader, error) {
	return OpenArchiveLimit(path, DefaultMaxInMemBlockBytes)
}

// OpenArchiveLimit opens the archive at path. Blocks larger (compressed)
// than maxInMemBlockBytes are decompressed via a temporary file during
// extraction; smaller ones in memory.
func OpenArchiveLimit(path string, maxInMemBlockBytes int64) (*ArchiveReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lenBuf [8]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		return nil, &BadArchiveError{Reason: "header too short"}
	}
	headerLen := binary.BigEndian.Uint64(lenBuf[:])
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if headerLen > uint64(st.Size())-8 {
		return nil, &BadArchiveError{Reason: "index length exceeds archive size"}
	}

	tmp, err := os.CreateTemp("", "bloda-*.bdadb")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	n, err := codec.Decompress(tmp, io.LimitReader(f, int64(headerLen)), codec.LZ4)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, &BadArchiveError{Reason: fmt.Sprintf("decompressing index: %v", err)}
	}
	if n == 0 {
		return nil, &BadArchiveError{Reason: "index decompresses empty"}
	}

	fileRows, leafRows, blockRows, err := index.Read(tmp.Name())
	if err != nil {
		return nil, &BadArchiveError{Reason: fmt.Sprintf("loading index: %v", err)}
	}

	blobStart := int64(headerLen) + 8
	blocks := make([]blockLocation, len(blockRows))
	var off int64
	for i, b := range blockRows {
		if b.ID != int64(i) {
			return nil, &BadArchiveError{Reason: fmt.Sprintf("block ids not dense at %d", i)}
		}
		if b.Offset != off {
			return nil, &BadArchiveError{Reason: fmt.Sprintf("block %d offset %d, want %d", i, b.Offset, off)}
		}
		if !codec.Supported(b.CompressionType) {
			return nil, &BadArchiveError{Reason: fmt.Sprintf("block %d has unknown codec %q", i, b.CompressionType)}
		}
		blocks[i] = blockLocation{BlockInfo: b, archiveOffset: blobStart + b.Offset}
		off += b.Size
	}

	files := make(map[string]index.FileEntry, len(fileRows))
	for _, fe := range fileRows {
		if fe.Block < 0 || fe.Block >= int64(len(blocks)) {
			return nil, &BadArchiveError{Reason: fmt.Sprintf("file %s references block %d of %d", fe.Name, fe.Block, len(blocks))}
		}
		files[fe.Name] = fe
	}
	leaves := make(map[string]struct{}, len(leafRows))
	for _, l := range leafRows {
		leaves[l.Name] = struct{}{}
	}

	return &ArchiveReader{
		path:     path,
		files:    files,
		leaves:   leaves,
		blocks:   blocks,
		maxInMem: maxInMemBlockBytes,
	}, nil
}

// ListAllEntries returns the names of all files followed by all leaf
// directories. Order within each group is unspecified.
func (r *ArchiveReader) ListAllEntries() []string {
	names := make([]string, 0, len(r.files)+len(r.leaves))
	for name := range r.files {
		names = append(names, name)
	}
	for name := range r.leaves {
		names = append(names, name)
	}
	return names
}

// ListEntriesRE returns all entry names matching the given regular
// expression (RE2 syntax, as implemented by the regexp package).
func (r *ArchiveReader) ListEntriesRE(pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, xerrors.Errorf("invalid re pattern: %w", err)
	}
	var names []string
	for name := range r.files {
		if re.MatchString(name) {
			names = append(names, name)
		}
	}
	for name := range r.leaves {
		if re.MatchString(name) {
			names = append(names, name)
		}
	}
	return names, nil
}

// EntryType returns "file" or "dir" for a name present in the index, and
// the empty string otherwise. Only leaf directories have entries of their
// own; directories implied by contained files report "".
func (r *ArchiveReader) EntryType(name string) string {
	if _, ok := r.files[name]; ok {
		return "file"
	}
	if _, ok := r.leaves[name]; ok {
		return "dir"
	}
	return ""
}

// ListDir returns the children of dir, sorted by name: entries exactly one
// path component below it, plus one "dir" entry for each deeper subtree.
// An empty dir lists the archive root.
func (r *ArchiveReader) ListDir(dir string) []DirEntry {
	prefix := ""
	if dir != "" {
		prefix = strings.TrimSuffix(dir, "/") + "/"
	}
	children := make(map[string]string)
	add := func(name, typ string) {
		if !strings.HasPrefix(name, prefix) {
			return
		}
		rest := name[len(prefix):]
		if rest == "" {
			return
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			children[rest[:i]] = "dir"
		} else if children[rest] != "dir" {
			children[rest] = typ
		}
	}
	for name := range r.files {
		add(name, "file")
	}
	for name := range r.leaves {
		add(name, "dir")
	}

	entries := make([]DirEntry, 0, len(children))
	for name, typ := range children {
		entries = append(entries, DirEntry{Name: name, Type: typ})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}
