// Package localfs is the filesystem seam the sync engine reads and writes
// local trees through. Production code uses the OS filesystem; tests swap
// in an in-memory afero filesystem.
package localfs

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Provider is the set of filesystem operations the scanner and executor use.
// Relative paths are always slash separated.
type Provider interface {
	Walk(root string, fn filepath.WalkFunc) error
	Open(name string) (afero.File, error)
	Create(parentDir, name string) (afero.File, error)
	OpenAppend(name string) (afero.File, int64, error)
	Delete(name string) (bool, error)
	EnsurePath(root, relPath string) (string, error)
	Stat(name string) (os.FileInfo, error)
	Lstat(name string) (os.FileInfo, error)
	Chtimes(name string, mtime time.Time) error
	Rename(oldName, newName string) error
	Fs() afero.Fs
}

// AferoProvider implements Provider over any afero.Fs.
type AferoProvider struct {
	fs afero.Fs
}

// New wraps fs.
func New(fs afero.Fs) *AferoProvider {
	return &AferoProvider{fs: fs}
}

// NewOS returns a provider backed by the real filesystem.
func NewOS() *AferoProvider {
	return New(afero.NewOsFs())
}

// NewMem returns a provider backed by memory, for tests and dry runs.
func NewMem() *AferoProvider {
	return New(afero.NewMemMapFs())
}

// Abs joins a slash separated relative path onto root.
func Abs(root, relPath string) string {
	if relPath == "" || relPath == "." {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(relPath))
}

func (p *AferoProvider) Fs() afero.Fs {
	return p.fs
}

func (p *AferoProvider) Walk(root string, fn filepath.WalkFunc) error {
	return afero.Walk(p.fs, root, fn)
}

func (p *AferoProvider) Open(name string) (afero.File, error) {
	return p.fs.Open(name)
}

// Create creates (or truncates) name inside parentDir, creating parentDir
// first if needed.
func (p *AferoProvider) Create(parentDir, name string) (afero.File, error) {
	if err := p.fs.MkdirAll(parentDir, 0755); err != nil {
		return nil, err
	}
	return p.fs.Create(filepath.Join(parentDir, name))
}

// OpenAppend opens name for appending and reports its current size.
func (p *AferoProvider) OpenAppend(name string) (afero.File, int64, error) {
	if err := p.fs.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return nil, 0, err
	}
	f, err := p.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// ErrNotEmpty is returned by Delete for a directory that still has entries.
var ErrNotEmpty = errors.New("directory not empty")

// Delete removes a file or an empty directory. It never removes a
// directory's contents: a directory that still has entries is left in place
// and ErrNotEmpty is returned. It returns false when there was nothing to
// remove.
func (p *AferoProvider) Delete(name string) (bool, error) {
	info, err := p.Lstat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		names, err := afero.ReadDir(p.fs, name)
		if err != nil {
			return false, err
		}
		if len(names) > 0 {
			return false, &os.PathError{Op: "remove", Path: name, Err: ErrNotEmpty}
		}
	}
	if err := p.fs.Remove(name); err != nil {
		return false, err
	}
	return true, nil
}

// EnsurePath creates root/relPath as a directory and returns its absolute path.
func (p *AferoProvider) EnsurePath(root, relPath string) (string, error) {
	abs := Abs(root, relPath)
	if err := p.fs.MkdirAll(abs, 0755); err != nil {
		return "", err
	}
	return abs, nil
}

func (p *AferoProvider) Stat(name string) (os.FileInfo, error) {
	return p.fs.Stat(name)
}

// Lstat does not follow symlinks when the underlying filesystem supports it.
func (p *AferoProvider) Lstat(name string) (os.FileInfo, error) {
	if lstater, ok := p.fs.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(name)
		return info, err
	}
	return p.fs.Stat(name)
}

func (p *AferoProvider) Chtimes(name string, mtime time.Time) error {
	return p.fs.Chtimes(name, mtime, mtime)
}

func (p *AferoProvider) Rename(oldName, newName string) error {
	if err := p.fs.MkdirAll(filepath.Dir(newName), 0755); err != nil {
		return err
	}
	return p.fs.Rename(oldName, newName)
}
