// Package index persists the archive catalog: three relational tables in a
// single SQLite file. Rows are written once during packing and never
// mutated afterwards.
package index

import (
	"fmt"
	"os"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// FileEntry is one row of the files table: the placement of a regular file
// inside its block.
type FileEntry struct {
	// Name is the path relative to the archive root, slash-separated.
	Name string `gorm:"column:name;primaryKey"`

	// Block is the 0-based id of the block containing the file. A file
	// never crosses blocks.
	Block int64 `gorm:"column:block"`

	// Offset is the byte offset of the file within the uncompressed block.
	Offset int64 `gorm:"column:offset"`

	// Size is the file length in bytes.
	Size int64 `gorm:"column:size"`
}

func (FileEntry) TableName() string { return "files" }

// FolderLeaf is one row of the folder_leaves table: a directory that was
// empty at pack time. Non-empty directories are implied by the files they
// contain and need no row.
type FolderLeaf struct {
	Name string `gorm:"column:name;primaryKey"`
}

func (FolderLeaf) TableName() string { return "folder_leaves" }

// BlockInfo is one row of the blocks table.
type BlockInfo struct {
	// ID is the dense 0-based ordinal of the block in blob order.
	ID int64 `gorm:"column:id;primaryKey;autoIncrement:false"`

	// Size is the compressed byte length of the block.
	Size int64 `gorm:"column:size"`

	// Offset is the byte offset of the block within the blob, not within
	// the archive.
	Offset int64 `gorm:"column:offset"`

	// CompressionType is the codec label the block was compressed with.
	CompressionType string `gorm:"column:compression_type"`
}

func (BlockInfo) TableName() string { return "blocks" }

// StoreError wraps a failure of the embedded table store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("index store: at %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func open(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// Write creates the index file at path, replacing any existing file, and
// stores the given rows.
func Write(path string, files []FileEntry, leaves []FolderLeaf, blocks []BlockInfo) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &StoreError{Op: "deleting existing index", Err: err}
	}
	db, err := open(path)
	if err != nil {
		return &StoreError{Op: "opening index", Err: err}
	}
	defer closeDB(db)

	if err := db.AutoMigrate(&FileEntry{}, &FolderLeaf{}, &BlockInfo{}); err != nil {
		return &StoreError{Op: "creating tables", Err: err}
	}
	if len(files) > 0 {
		if err := db.CreateInBatches(files, 500).Error; err != nil {
			return &StoreError{Op: "writing file rows", Err: err}
		}
	}
	if len(leaves) > 0 {
		if err := db.CreateInBatches(leaves, 500).Error; err != nil {
			return &StoreError{Op: "writing folder leaf rows", Err: err}
		}
	}
	if len(blocks) > 0 {
		if err := db.CreateInBatches(blocks, 500).Error; err != nil {
			return &StoreError{Op: "writing block rows", Err: err}
		}
	}
	return nil
}

// Read loads the three tables from the index file at path. Blocks come back
// ordered by id ascending.
func Read(path string) ([]FileEntry, []FolderLeaf, []BlockInfo, error) {
	db, err := open(path)
	if err != nil {
		return nil, nil, nil, &StoreError{Op: "opening index", Err: err}
	}
	defer closeDB(db)

	var (
		files  []FileEntry
		leaves []FolderLeaf
		blocks []BlockInfo
	)
	if err := db.Find(&files).Error; err != nil {
		return nil, nil, nil, &StoreError{Op: "reading file rows", Err: err}
	}
	if err := db.Find(&leaves).Error; err != nil {
		return nil, nil, nil, &StoreError{Op: "reading folder leaf rows", Err: err}
	}
	if err := db.Order("id ASC").Find(&blocks).Error; err != nil {
		return nil, nil, nil, &StoreError{Op: "reading block rows", Err: err}
	}
	return files, leaves, blocks, nil
}
