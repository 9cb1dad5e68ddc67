package bloda

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// writeTree materializes files (name → content, slash-separated names) and
// extra empty directories under root.
func writeTree(t *testing.T, root string, files map[string]string, emptyDirs []string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range emptyDirs {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(name)), 0755); err != nil {
			t.Fatal(err)
		}
	}
}

// readTree walks root and returns its regular files (name → content) and
// the directories that are empty.
func readTree(t *testing.T, root string) (map[string]string, []string) {
	t.Helper()
	files := make(map[string]string)
	var empty []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if d.IsDir() {
			if name == "." {
				return nil
			}
			ents, err := os.ReadDir(path)
			if err != nil {
				return err
			}
			if len(ents) == 0 {
				empty = append(empty, name)
			}
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[name] = string(b)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(empty)
	return files, empty
}

var testTree = map[string]string{
	"a.txt":           "hello",
	"b.txt":           "world",
	"sub/c.txt":       strings.Repeat("the quick brown fox ", 100),
	"sub/deep/d.bin":  string(bytes.Repeat([]byte{0, 1, 2, 3}, 512)),
	"zero.dat":        "",
	"sub/another.txt": "another",
}

func createTestArchive(t *testing.T, codec string, blockSize int64) (archive string, wantFiles map[string]string, wantEmpty []string) {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, testTree, []string{"dir/empty"})
	archive = filepath.Join(t.TempDir(), "test.bda")
	if err := CreateArchive(context.Background(), root, archive, codec, 2, blockSize); err != nil {
		t.Fatal(err)
	}
	return archive, testTree, []string{"dir/empty"}
}

func TestRoundTrip(t *testing.T) {
	for _, codec := range []string{"ZSTD", "LZ4", "LZMA", "NONE"} {
		codec := codec
		t.Run(codec, func(t *testing.T) {
			t.Parallel()
			archive, wantFiles, wantEmpty := createTestArchive(t, codec, 1024)

			out := t.TempDir()
			if err := DecompressArchive(archive, out); err != nil {
				t.Fatal(err)
			}
			gotFiles, gotEmpty := readTree(t, out)
			if diff := cmp.Diff(wantFiles, gotFiles); diff != "" {
				t.Errorf("file contents differ (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(wantEmpty, gotEmpty); diff != "" {
				t.Errorf("empty dirs differ (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListAndExtract(t *testing.T) {
	archive, wantFiles, _ := createTestArchive(t, "ZSTD", DefaultBlockSize)

	r, err := OpenArchive(archive)
	if err != nil {
		t.Fatal(err)
	}

	var want []string
	for name := range wantFiles {
		want = append(want, name)
	}
	want = append(want, "dir/empty")
	sort.Strings(want)
	got := r.ListAllEntries()
	sort.Strings(got)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected entries (-want +got):\n%s", diff)
	}

	if got, want := r.EntryType("a.txt"), "file"; got != want {
		t.Errorf("EntryType(a.txt) = %q, want %q", got, want)
	}
	if got, want := r.EntryType("dir/empty"), "dir"; got != want {
		t.Errorf("EntryType(dir/empty) = %q, want %q", got, want)
	}
	if got := r.EntryType("nope"); got != "" {
		t.Errorf("EntryType(nope) = %q, want empty", got)
	}

	out := filepath.Join(t.TempDir(), "x", "a.txt")
	if err := r.ExtractFile("a.txt", out); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hello" {
		t.Fatalf("extracted %q, want %q", b, "hello")
	}

	var nf *FileNotFoundError
	if err := r.ExtractFile("nope", out); !errors.As(err, &nf) {
		t.Fatalf("want FileNotFoundError, got %v", err)
	}
}

func TestListEntriesRE(t *testing.T) {
	archive, _, _ := createTestArchive(t, "LZ4", DefaultBlockSize)
	r, err := OpenArchive(archive)
	if err != nil {
		t.Fatal(err)
	}

	names, err := r.ListEntriesRE(`^sub/`)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(names)
	want := []string{"sub/another.txt", "sub/c.txt", "sub/deep/d.bin"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("unexpected matches (-want +got):\n%s", diff)
	}

	if _, err := r.ListEntriesRE("["); err == nil {
		t.Fatal("want error for invalid pattern")
	}
}

func TestListDir(t *testing.T) {
	archive, _, _ := createTestArchive(t, "ZSTD", DefaultBlockSize)
	r, err := OpenArchive(archive)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]DirEntry{
		{Name: "a.txt", Type: "file"},
		{Name: "b.txt", Type: "file"},
		{Name: "dir", Type: "dir"},
		{Name: "sub", Type: "dir"},
		{Name: "zero.dat", Type: "file"},
	}, r.ListDir("")); diff != "" {
		t.Errorf("root listing differs (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]DirEntry{
		{Name: "another.txt", Type: "file"},
		{Name: "c.txt", Type: "file"},
		{Name: "deep", Type: "dir"},
	}, r.ListDir("sub")); diff != "" {
		t.Errorf("sub listing differs (-want +got):\n%s", diff)
	}

	if got := r.ListDir("sub/deep/d.bin"); len(got) != 0 {
		t.Errorf("listing a file returned %v", got)
	}
}

func TestSelectiveExtractionEquivalence(t *testing.T) {
	archive, _, _ := createTestArchive(t, "ZSTD", 1024)

	full := t.TempDir()
	if err := DecompressArchive(archive, full); err != nil {
		t.Fatal(err)
	}
	fullFiles, _ := readTree(t, full)

	r, err := OpenArchive(archive)
	if err != nil {
		t.Fatal(err)
	}
	partial := t.TempDir()
	if err := r.ExtractFiles(`^sub/`, partial, false); err != nil {
		t.Fatal(err)
	}
	partialFiles, _ := readTree(t, partial)

	want := make(map[string]string)
	for name, content := range fullFiles {
		if strings.HasPrefix(name, "sub/") {
			want[name] = content
		}
	}
	if diff := cmp.Diff(want, partialFiles); diff != "" {
		t.Fatalf("selective extraction differs from full (-want +got):\n%s", diff)
	}
}

func TestBulkExtractionDecompressesEachBlockOnce(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 100; i++ {
		writeFile(t, filepath.Join(root, "a", fmt.Sprintf("file%03d", i)), 100)
	}
	writeFile(t, filepath.Join(root, "unrelated.bin"), 5000)

	// 100 equally sized files against a budget of 34 files per block land
	// in exactly 3 blocks.
	archive := filepath.Join(t.TempDir(), "grouped.bda")
	if err := CreateArchive(context.Background(), root, archive, "ZSTD", 2, 3400); err != nil {
		t.Fatal(err)
	}

	r, err := OpenArchive(archive)
	if err != nil {
		t.Fatal(err)
	}
	wantBlocks := make(map[int64]bool)
	for name, fe := range r.files {
		if strings.HasPrefix(name, "a/") {
			wantBlocks[fe.Block] = true
		}
	}
	if len(wantBlocks) != 3 {
		t.Fatalf("matched files live in %d blocks, want 3", len(wantBlocks))
	}

	counts := make(map[int64]int)
	r.blockObserver = func(id int64) { counts[id]++ }
	if err := r.ExtractFiles(`^a/`, t.TempDir(), false); err != nil {
		t.Fatal(err)
	}

	if len(counts) != len(wantBlocks) {
		t.Errorf("decompressed %d distinct blocks, want %d", len(counts), len(wantBlocks))
	}
	for id, n := range counts {
		if !wantBlocks[id] {
			t.Errorf("decompressed block %d, which holds no matching file", id)
		}
		if n != 1 {
			t.Errorf("block %d decompressed %d times, want 1", id, n)
		}
	}
}

func TestExtractNoMatch(t *testing.T) {
	archive, _, _ := createTestArchive(t, "ZSTD", DefaultBlockSize)
	r, err := OpenArchive(archive)
	if err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	if err := r.ExtractFiles("^no-such-entry$", out, false); err != nil {
		t.Fatal(err)
	}
	ents, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 0 {
		t.Fatalf("want no output for non-matching pattern, got %v", ents)
	}

	if err := r.ExtractFiles("[", out, false); err == nil {
		t.Fatal("want error for invalid pattern")
	}
}

func TestSpillToTempFile(t *testing.T) {
	archive, _, _ := createTestArchive(t, "ZSTD", 1024)

	// A threshold of 0 forces every block through the temp-file path; the
	// output must be identical to the in-memory path.
	r, err := OpenArchiveLimit(archive, 0)
	if err != nil {
		t.Fatal(err)
	}
	spilled := t.TempDir()
	if err := r.ExtractFiles(".*", spilled, false); err != nil {
		t.Fatal(err)
	}

	inMem := t.TempDir()
	if err := DecompressArchive(archive, inMem); err != nil {
		t.Fatal(err)
	}

	spilledFiles, _ := readTree(t, spilled)
	inMemFiles, _ := readTree(t, inMem)
	if diff := cmp.Diff(inMemFiles, spilledFiles); diff != "" {
		t.Fatalf("spill path differs from in-memory path (-want +got):\n%s", diff)
	}
}

func TestLayoutInvariant(t *testing.T) {
	archive, _, _ := createTestArchive(t, "LZ4", 512)
	r, err := OpenArchive(archive)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.blocks) < 2 {
		t.Fatalf("want a multi-block archive, got %d blocks", len(r.blocks))
	}
	if r.blocks[0].Offset != 0 {
		t.Fatalf("blocks[0].Offset = %d, want 0", r.blocks[0].Offset)
	}
	for i := 1; i < len(r.blocks); i++ {
		prev := r.blocks[i-1]
		if got, want := r.blocks[i].Offset, prev.Offset+prev.Size; got != want {
			t.Fatalf("blocks[%d].Offset = %d, want %d", i, got, want)
		}
	}

	for name, fe := range r.files {
		if fe.Offset < 0 || fe.Size < 0 {
			t.Fatalf("file %s has negative placement: %+v", name, fe)
		}
	}
}

func TestIndexLengthPrefix(t *testing.T) {
	archive, _, _ := createTestArchive(t, "NONE", DefaultBlockSize)
	b, err := os.ReadFile(archive)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) < 8 {
		t.Fatalf("archive is only %d bytes", len(b))
	}
	headerLen := int64(b[0])<<56 | int64(b[1])<<48 | int64(b[2])<<40 | int64(b[3])<<32 |
		int64(b[4])<<24 | int64(b[5])<<16 | int64(b[6])<<8 | int64(b[7])
	if headerLen <= 0 || headerLen > int64(len(b))-8 {
		t.Fatalf("header length %d out of range for a %d byte archive", headerLen, len(b))
	}

	// NONE blocks occupy exactly their uncompressed size in the blob.
	r, err := OpenArchive(archive)
	if err != nil {
		t.Fatal(err)
	}
	var blob int64
	for _, blk := range r.blocks {
		blob += blk.Size
	}
	if got, want := int64(len(b)), 8+headerLen+blob; got != want {
		t.Fatalf("archive size %d, want %d (8 + index + blob)", got, want)
	}
}

func TestEmptyInput(t *testing.T) {
	root := t.TempDir()
	archive := filepath.Join(t.TempDir(), "empty.bda")
	if err := CreateArchive(context.Background(), root, archive, "ZSTD", 1, 0); err != nil {
		t.Fatal(err)
	}
	r, err := OpenArchive(archive)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(r.ListAllEntries()); n != 0 {
		t.Fatalf("want no entries, got %d", n)
	}
	if len(r.blocks) != 0 {
		t.Fatalf("want no blocks, got %d", len(r.blocks))
	}

	out := t.TempDir()
	if err := DecompressArchive(archive, out); err != nil {
		t.Fatal(err)
	}
	ents, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 0 {
		t.Fatalf("want empty output dir, got %v", ents)
	}
}

func TestSingleLargeFile(t *testing.T) {
	root := t.TempDir()
	payload := make([]byte, 3*1024*1024)
	rnd := rand.New(rand.NewSource(427))
	rnd.Read(payload)
	if err := os.WriteFile(filepath.Join(root, "big.bin"), payload, 0644); err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(t.TempDir(), "big.bda")
	if err := CreateArchive(context.Background(), root, archive, "ZSTD", 1, 1024*1024); err != nil {
		t.Fatal(err)
	}
	r, err := OpenArchive(archive)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.blocks) != 1 {
		t.Fatalf("want 1 block for a single oversized file, got %d", len(r.blocks))
	}

	out := filepath.Join(t.TempDir(), "big.bin")
	if err := r.ExtractFile("big.bin", out); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("extracted bytes differ from source")
	}
}

func TestManyTinyFilesShareBlocks(t *testing.T) {
	root := t.TempDir()
	var total int64
	for i := 0; i < 200; i++ {
		writeFile(t, filepath.Join(root, "f", fmt.Sprintf("file%03d", i)), 1024)
		total += 1024
	}
	archive := filepath.Join(t.TempDir(), "tiny.bda")
	if err := CreateArchive(context.Background(), root, archive, "ZSTD", 4, DefaultBlockSize); err != nil {
		t.Fatal(err)
	}
	r, err := OpenArchive(archive)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.blocks) != 1 {
		t.Fatalf("want all tiny files in one block, got %d blocks", len(r.blocks))
	}
	st, err := os.Stat(archive)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() >= total {
		t.Fatalf("archive of repetitive files is %d bytes, want < %d", st.Size(), total)
	}
}

func TestStagingFilesCleanedUp(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a": "x", "b": "y"}, nil)
	outDir := t.TempDir()
	archive := filepath.Join(outDir, "out.bda")
	if err := CreateArchive(context.Background(), root, archive, "LZ4", 2, 1); err != nil {
		t.Fatal(err)
	}
	ents, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range ents {
		if e.Name() != "out.bda" {
			t.Errorf("leftover staging file %s", e.Name())
		}
	}
}

func TestHeaderTooShort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.bda")
	if err := os.WriteFile(path, []byte("1234567"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := OpenArchive(path)
	var bad *BadArchiveError
	if !errors.As(err, &bad) {
		t.Fatalf("want BadArchiveError, got %v", err)
	}
	if bad.Reason != "header too short" {
		t.Fatalf("reason = %q, want %q", bad.Reason, "header too short")
	}
}

func TestHeaderLengthExceedsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lying.bda")
	b := make([]byte, 32)
	b[0] = 0xFF // claims an absurdly large index
	if err := os.WriteFile(path, b, 0644); err != nil {
		t.Fatal(err)
	}
	_, err := OpenArchive(path)
	var bad *BadArchiveError
	if !errors.As(err, &bad) {
		t.Fatalf("want BadArchiveError, got %v", err)
	}
}

func TestGarbageIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.bda")
	// Valid length prefix, but the "index" is not LZ4 data.
	b := append([]byte{0, 0, 0, 0, 0, 0, 0, 4}, []byte("junk")...)
	if err := os.WriteFile(path, b, 0644); err != nil {
		t.Fatal(err)
	}
	_, err := OpenArchive(path)
	var bad *BadArchiveError
	if !errors.As(err, &bad) {
		t.Fatalf("want BadArchiveError, got %v", err)
	}
}

func TestTruncatedBlob(t *testing.T) {
	archive, _, _ := createTestArchive(t, "ZSTD", 1024)
	b, err := os.ReadFile(archive)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(archive, b[:len(b)-10], 0644); err != nil {
		t.Fatal(err)
	}

	r, err := OpenArchive(archive)
	if err != nil {
		// The header length check may already reject the truncation.
		var bad *BadArchiveError
		if !errors.As(err, &bad) {
			t.Fatalf("want BadArchiveError, got %v", err)
		}
		return
	}
	err = r.ExtractFiles(".*", t.TempDir(), false)
	var bad *BadArchiveError
	if !errors.As(err, &bad) {
		t.Fatalf("want BadArchiveError extracting from truncated blob, got %v", err)
	}
}

func TestUnknownCodecRejected(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a": "x"}, nil)
	err := CreateArchive(context.Background(), root, filepath.Join(t.TempDir(), "x.bda"), "BROTLI", 1, 0)
	if err == nil {
		t.Fatal("want error for unsupported codec")
	}
}

func TestSafeJoin(t *testing.T) {
	for _, tt := range []struct {
		name string
		ok   bool
	}{
		{"a/b.txt", true},
		{"a/./b.txt", true},
		{"a/../b.txt", true}, // collapses to b.txt, still inside
		{"../evil", false},
		{"a/../../evil", false},
		{"/etc/passwd", false},
	} {
		_, err := safeJoin("/out", tt.name)
		if ok := err == nil; ok != tt.ok {
			t.Errorf("safeJoin(%q): ok = %v, want %v (err: %v)", tt.name, ok, tt.ok, err)
		}
	}
}
