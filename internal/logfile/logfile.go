// Package logfile provides the append-only log a backup run writes its audit trail to.
package logfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// File is an append-only log file that is only created on the first write,
// so a run that stops before writing anything leaves no file behind.
type File struct {
	fs   afero.Fs
	path string

	mu  sync.Mutex
	f   afero.File
	err error
}

// New returns a File for path on the OS filesystem.
func New(path string) *File {
	return NewWithFs(afero.NewOsFs(), path)
}

// NewWithFs returns a File for path on fs (for testing).
func NewWithFs(fs afero.Fs, path string) *File {
	return &File{fs: fs, path: path}
}

// Path returns the path of the log file.
func (l *File) Path() string {
	return l.path
}

// Created reports whether the file has been opened for writing.
func (l *File) Created() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f != nil
}

// Write appends p, creating the file and its directory on first use.
// Once opening failed every later write fails with the same error.
func (l *File) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return 0, l.err
	}
	if l.f == nil {
		if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
			l.err = fmt.Errorf("creating log directory: %w", err)
			return 0, l.err
		}
		f, err := l.fs.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o640)
		if err != nil {
			l.err = fmt.Errorf("opening log file: %w", err)
			return 0, l.err
		}
		l.f = f
	}
	return l.f.Write(p)
}

// Close closes the file if it was opened.
func (l *File) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
