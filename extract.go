package bloda

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/srinu427/bloda/internal/codec"
	"github.com/srinu427/bloda/internal/index"
)

// blockData is the decompressed contents of one block, held either in
// memory or in a temporary spill file.
type blockData struct {
	buf  []byte
	file *os.File // nil when buf is used
}

func (b *blockData) writeRange(dst io.Writer, off, size int64) error {
	if b.file == nil {
		if off < 0 || off+size > int64(len(b.buf)) {
			return fmt.Errorf("range [%d, %d) exceeds block of %d bytes", off, off+size, len(b.buf))
		}
		_, err := dst.Write(b.buf[off : off+size])
		return err
	}
	if _, err := b.file.Seek(off, io.SeekStart); err != nil {
		return err
	}
	_, err := io.CopyN(dst, b.file, size)
	return err
}

func (b *blockData) close() {
	if b.file != nil {
		name := b.file.Name()
		b.file.Close()
		os.Remove(name)
	}
}

// readBlock reopens the archive, reads the compressed bytes of one block
// and decompresses them, spilling to a temporary file when the compressed
// size exceeds the reader's in-memory threshold.
func (r *ArchiveReader) readBlock(id int64) (*blockData, error) {
	if id < 0 || id >= int64(len(r.blocks)) {
		return nil, &BadArchiveError{Reason: fmt.Sprintf("block %d out of range", id)}
	}
	blk := r.blocks[id]
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src := io.NewSectionReader(f, blk.archiveOffset, blk.Size)
	if r.blockObserver != nil {
		r.blockObserver(id)
	}

	if blk.Size > r.maxInMem {
		tmp, err := os.CreateTemp("", "bloda-block-*")
		if err != nil {
			return nil, err
		}
		if _, err := codec.Decompress(tmp, src, blk.CompressionType); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, &BadArchiveError{Reason: fmt.Sprintf("block %d: %v", id, err)}
		}
		return &blockData{file: tmp}, nil
	}

	var buf bytes.Buffer
	if _, err := codec.Decompress(&buf, src, blk.CompressionType); err != nil {
		return nil, &BadArchiveError{Reason: fmt.Sprintf("block %d: %v", id, err)}
	}
	return &blockData{buf: buf.Bytes()}, nil
}

// writeEntry writes one file's slice of a decompressed block to outPath,
// atomically: the bytes go to a pending file that is renamed into place
// once fully written.
func writeEntry(blk *blockData, fe index.FileEntry, outPath string) error {
	t, err := renameio.TempFile("", outPath)
	if err != nil {
		return err
	}
	defer t.Cleanup()
	if err := blk.writeRange(t, fe.Offset, fe.Size); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

// ExtractFile writes the named entry to outPath, creating parent
// directories as needed.
func (r *ArchiveReader) ExtractFile(name, outPath string) error {
	fe, ok := r.files[name]
	if !ok {
		return &FileNotFoundError{Name: name}
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return err
	}
	blk, err := r.readBlock(fe.Block)
	if err != nil {
		return err
	}
	defer blk.close()
	if err := writeEntry(blk, fe, outPath); err != nil {
		return &ExtractError{Name: name, Err: err}
	}
	return nil
}

// ExtractFiles writes every entry matching the regular expression pattern
// under outDir, recreating matching leaf directories first. Matching files
// are grouped by block so that each block is decompressed at most once.
//
// ignoreErrors is accepted for interface compatibility; extraction is
// strict regardless, aborting on the first failing entry.
func (r *ArchiveReader) ExtractFiles(pattern, outDir string, ignoreErrors bool) error {
	_ = ignoreErrors

	re, err := regexp.Compile(pattern)
	if err != nil {
		return xerrors.Errorf("invalid re pattern: %w", err)
	}

	for name := range r.leaves {
		if !re.MatchString(name) {
			continue
		}
		dst, err := safeJoin(outDir, name)
		if err != nil {
			return &ExtractError{Name: name, Err: err}
		}
		if err := os.MkdirAll(dst, 0755); err != nil {
			return &ExtractError{Name: name, Err: err}
		}
	}

	byBlock := make(map[int64][]index.FileEntry)
	for name, fe := range r.files {
		if re.MatchString(name) {
			byBlock[fe.Block] = append(byBlock[fe.Block], fe)
		}
	}

	for id, group := range byBlock {
		blk, err := r.readBlock(id)
		if err != nil {
			return err
		}
		for _, fe := range group {
			if err := extractInto(blk, fe, outDir); err != nil {
				blk.close()
				return &ExtractError{Name: fe.Name, Err: err}
			}
		}
		blk.close()
	}
	return nil
}

func extractInto(blk *blockData, fe index.FileEntry, outDir string) error {
	dst, err := safeJoin(outDir, fe.Name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return writeEntry(blk, fe, dst)
}

// safeJoin joins an archive entry name onto outDir, rejecting names that
// would land outside it.
func safeJoin(outDir, name string) (string, error) {
	if path.IsAbs(name) {
		return "", fmt.Errorf("unsafe entry name %q", name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("unsafe entry name %q", name)
	}
	return filepath.Join(outDir, filepath.FromSlash(clean)), nil
}

// DecompressArchive restores the full tree stored in the archive at
// archivePath into outDir, creating it if needed.
func DecompressArchive(archivePath, outDir string) error {
	r, err := OpenArchive(archivePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	return r.ExtractFiles(".*", outDir, true)
}
