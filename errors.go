package bloda

import "fmt"

// BadArchiveError reports an archive whose container structure cannot be
// trusted: a header too short to parse, an index that decompresses empty or
// fails to load, or block metadata that contradicts itself.
type BadArchiveError struct {
	Reason string
}

func (e *BadArchiveError) Error() string {
	return "bad archive: " + e.Reason
}

// FileNotFoundError reports a name absent from the archive index.
type FileNotFoundError struct {
	Name string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("%s doesn't exist in archive", e.Name)
}

// ExtractError wraps the failure that aborted extraction of one entry.
type ExtractError struct {
	Name string
	Err  error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("at extracting %s: %v", e.Name, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// ArchiveWriteError wraps the failure that aborted an archive write.
type ArchiveWriteError struct {
	Stage string // "plan", "compress", "index" or "emit"
	Err   error
}

func (e *ArchiveWriteError) Error() string {
	return fmt.Sprintf("at %s: %v", e.Stage, e.Err)
}

func (e *ArchiveWriteError) Unwrap() error { return e.Err }
