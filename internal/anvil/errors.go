package anvil

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedCompression = errors.New("unsupported compression")
	ErrCorruptChunk           = errors.New("corrupt chunk record")
	ErrNotPresent             = errors.New("chunk not present")
)

// PathError means a dimension directory is missing or not a directory.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string { return fmt.Sprintf("region directory %s: %v", e.Path, e.Err) }
func (e *PathError) Unwrap() error { return e.Err }

// NameParseError means a container file name does not carry region coordinates.
type NameParseError struct {
	Name string
	Err  error
}

func (e *NameParseError) Error() string {
	return fmt.Sprintf("region file name %q: %v", e.Name, e.Err)
}
func (e *NameParseError) Unwrap() error { return e.Err }

// OpenError means a container could not be opened or its header parsed.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string { return fmt.Sprintf("open region %s: %v", e.Path, e.Err) }
func (e *OpenError) Unwrap() error { return e.Err }

// WriteError means a container rewrite failed. The original file is left as
// it was.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string { return fmt.Sprintf("rewrite %s: %s: %v", e.Path, e.Op, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }
