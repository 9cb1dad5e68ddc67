package bloda

import (
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
)

// placedFile is one member of a block in the placement plan.
type placedFile struct {
	path   string // source path on disk
	name   string // slash-separated path relative to the archive root
	offset int64  // byte offset within the uncompressed block
	size   int64
}

// packPlan assigns every regular file under the root to exactly one block
// and records the directories that were empty at walk time.
type packPlan struct {
	blocks [][]placedFile
	leaves []string
}

// planArchive walks the tree under root and distributes the files into
// blocks of at most blockSize uncompressed bytes each. Files are packed
// smallest first so that many small files cluster into early blocks, which
// lets the codec reuse its dictionary across similar content and keeps the
// per-file offset arithmetic trivial. A single file larger than blockSize
// gets a block of its own.
//
// Entries that cannot be listed or sized are skipped with a warning; they
// never abort planning. A root that is a regular file yields an empty plan.
func planArchive(root string, blockSize int64) (*packPlan, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return &packPlan{}, nil
	}

	type sizedFile struct {
		path string
		name string
		size int64
	}
	var files []sizedFile
	var leaves []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("warning: listing %s: %v, skipping it", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
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
			empty, err := emptyDir(path)
			if err != nil {
				log.Printf("warning: listing %s: %v, skipping it", path, err)
				return nil
			}
			if empty {
				leaves = append(leaves, name)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			log.Printf("warning: getting size of %s: %v, skipping it", path, err)
			return nil
		}
		files = append(files, sizedFile{path: path, name: name, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].size < files[j].size })

	plan := &packPlan{leaves: leaves}
	var cur []placedFile
	var off int64
	for _, f := range files {
		if len(cur) > 0 && off+f.size > blockSize {
			plan.blocks = append(plan.blocks, cur)
			cur, off = nil, 0
		}
		cur = append(cur, placedFile{path: f.path, name: f.name, offset: off, size: f.size})
		off += f.size
	}
	if len(cur) > 0 {
		plan.blocks = append(plan.blocks, cur)
	}
	return plan, nil
}

func emptyDir(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err := f.ReadDir(1); err != io.EOF {
		return false, err
	}
	return true, nil
}
