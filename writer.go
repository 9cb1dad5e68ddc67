package bloda

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/srinu427/bloda/internal/codec"
	"github.com/srinu427/bloda/internal/index"
)

// DefaultBlockSize is the block size budget used when none is given.
const DefaultBlockSize = 64 * 1024 * 1024

// CreateArchive packs the tree under dir into a single archive file at
// output. Blocks are compressed with the given codec label (the index is
// always compressed with LZ4); up to threads blocks are compressed in
// parallel, with block ids following placement order regardless of which
// worker finishes first. A blockSize of 0 selects DefaultBlockSize.
//
// Staged per-block files (output.temp<N>) and the temporary index file
// (output.bdadb) are removed on success; a failed run may leave them
// behind.
func CreateArchive(ctx context.Context, dir, output, codecLabel string, threads int, blockSize int64) error {
	if !codec.Supported(codecLabel) {
		return &codec.UnknownCodecError{Label: codecLabel}
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if threads < 1 {
		threads = 1
	}

	plan, err := planArchive(dir, blockSize)
	if err != nil {
		return &ArchiveWriteError{Stage: "plan", Err: err}
	}

	staged := make([]string, len(plan.blocks))
	sizes := make([]int64, len(plan.blocks))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(threads)
	for i, blk := range plan.blocks {
		i, blk := i, blk
		staged[i] = fmt.Sprintf("%s.temp%d", output, i)
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := writeBlock(blk, codecLabel, staged[i])
			if err != nil {
				return xerrors.Errorf("at making block %d: %w", i, err)
			}
			sizes[i] = n
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return &ArchiveWriteError{Stage: "compress", Err: err}
	}

	var fileRows []index.FileEntry
	for b, blk := range plan.blocks {
		for _, pf := range blk {
			fileRows = append(fileRows, index.FileEntry{
				Name:   pf.name,
				Block:  int64(b),
				Offset: pf.offset,
				Size:   pf.size,
			})
		}
	}
	leafRows := make([]index.FolderLeaf, 0, len(plan.leaves))
	for _, name := range plan.leaves {
		leafRows = append(leafRows, index.FolderLeaf{Name: name})
	}
	blockRows := make([]index.BlockInfo, len(plan.blocks))
	var blobOff int64
	for i := range blockRows {
		blockRows[i] = index.BlockInfo{
			ID:              int64(i),
			Size:            sizes[i],
			Offset:          blobOff,
			CompressionType: codecLabel,
		}
		blobOff += sizes[i]
	}

	dbPath := output + ".bdadb"
	if err := index.Write(dbPath, fileRows, leafRows, blockRows); err != nil {
		return &ArchiveWriteError{Stage: "index", Err: err}
	}

	var compIndex bytes.Buffer
	db, err := os.Open(dbPath)
	if err != nil {
		return &ArchiveWriteError{Stage: "index", Err: err}
	}
	_, err = codec.Compress(&compIndex, db, codec.LZ4)
	db.Close()
	if err != nil {
		return &ArchiveWriteError{Stage: "index", Err: xerrors.Errorf("at compressing index: %w", err)}
	}

	out, err := os.Create(output)
	if err != nil {
		return &ArchiveWriteError{Stage: "emit", Err: err}
	}
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(compIndex.Len()))
	if _, err := out.Write(lenBuf[:]); err != nil {
		out.Close()
		return &ArchiveWriteError{Stage: "emit", Err: xerrors.Errorf("at writing index length: %w", err)}
	}
	if _, err := io.Copy(out, &compIndex); err != nil {
		out.Close()
		return &ArchiveWriteError{Stage: "emit", Err: xerrors.Errorf("at writing index: %w", err)}
	}
	for i, path := range staged {
		in, err := os.Open(path)
		if err != nil {
			out.Close()
			return &ArchiveWriteError{Stage: "emit", Err: err}
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			return &ArchiveWriteError{Stage: "emit", Err: xerrors.Errorf("at appending block %d: %w", i, err)}
		}
	}
	if err := out.Close(); err != nil {
		return &ArchiveWriteError{Stage: "emit", Err: err}
	}

	for _, path := range append(staged, dbPath) {
		if err := os.Remove(path); err != nil {
			log.Printf("warning: removing %s: %v", path, err)
		}
	}
	return nil
}
