package audio

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// TempFile is a file the pipeline owns for a bounded time. Remove is safe to
// call more than once and on a nil receiver.
type TempFile struct {
	path string
	once sync.Once
	err  error
}

// CreateTemp writes r into a new file in dir named after pattern (see os.CreateTemp).
// A partially written file is removed before the error is returned.
func CreateTemp(dir, pattern string, r io.Reader) (*TempFile, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &EncodingError{Path: dir, Err: fmt.Errorf("create temp directory: %w", err)}
		}
	}

	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, &EncodingError{Path: dir, Err: fmt.Errorf("create temp file: %w", err)}
	}

	path := f.Name()
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, &EncodingError{Path: path, Err: fmt.Errorf("write temp file: %w", err)}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, &EncodingError{Path: path, Err: fmt.Errorf("close temp file: %w", err)}
	}

	return &TempFile{path: path}, nil
}

func (t *TempFile) Path() string {
	if t == nil {
		return ""
	}
	return t.path
}

func (t *TempFile) Remove() error {
	if t == nil {
		return nil
	}
	t.once.Do(func() {
		if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.err = err
		}
	})
	return t.err
}
