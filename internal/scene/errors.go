package scene

import "errors"

var (
	// ErrUnsupportedFormat is returned when the file is neither RSM nor glTF.
	ErrUnsupportedFormat = errors.New("unsupported scene format")

	// ErrNotFound is returned when the path is neither on disk nor in any
	// configured archive.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidScene is returned when the file parses but references data
	// that does not exist.
	ErrInvalidScene = errors.New("invalid scene data")
)

// ImportError describes a failed import. Its message is what the CLI prints
// after "import failed: ".
type ImportError struct {
	Path string
	Err  error
}

func (e *ImportError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
