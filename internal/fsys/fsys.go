// Package fsys is the filesystem-access collaborator used by the
// scanner and coordinator. Keeping syscalls behind this interface lets
// tests run against a fake filesystem and keeps the core off any one
// platform API.
package fsys

import (
	"io"
	"io/fs"
	"os"
)

// FS is the minimal surface the core needs from a filesystem.
type FS interface {
	// Exists reports whether path refers to an existing entry.
	Exists(path string) bool
	// Stat returns file info for path, following symlinks.
	Stat(path string) (fs.FileInfo, error)
	// ReadDir returns the entries of the directory at path.
	ReadDir(path string) ([]fs.DirEntry, error)
	// ReadFile returns the full contents of the file at path.
	ReadFile(path string) ([]byte, error)
	// ReadHeader returns up to n leading bytes of the file at path.
	ReadHeader(path string, n int) ([]byte, error)
	// WriteFile writes data to path, creating it if needed.
	WriteFile(path string, data []byte, perm fs.FileMode) error
}

// OS is the real-filesystem implementation of FS.
type OS struct{}

func (OS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (OS) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

func (OS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (OS) ReadHeader(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return buf[:read], nil
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (OS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(path, data, perm)
}
