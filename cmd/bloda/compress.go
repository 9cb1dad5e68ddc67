package main

import (
	"context"
	"flag"
	"os"

	"github.com/srinu427/bloda"
)

const compressHelp = `bloda compress -i <input_path> -o <output_path.bda> [-flags]

Pack a directory tree into a single solid-block archive. Small files are
grouped into shared compression blocks to exploit redundancy across files.

If the input path is a regular file rather than a directory, an empty
archive is generated.

Example:
  % bloda compress -i ./photos -o photos.bda
  % bloda compress -i ./logs -o logs.bda -c LZMA -t 8 -b 16777216
`

func compress(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("compress", flag.ExitOnError)
	var (
		input     = fset.String("i", "", "input directory to pack")
		output    = fset.String("o", "", "output archive path (expected extension: .bda)")
		threads   = fset.Int("t", 1, "number of blocks to compress in parallel")
		codec     = fset.String("c", "ZSTD", "data codec: LZMA, LZ4, ZSTD or NONE")
		blockSize = fset.Int64("b", bloda.DefaultBlockSize, "block size budget in bytes")
	)
	fset.Usage = usage(fset, compressHelp)
	fset.Parse(args)
	if *input == "" || *output == "" {
		fset.Usage()
		os.Exit(2)
	}

	return bloda.CreateArchive(ctx, *input, *output, *codec, *threads, *blockSize)
}
