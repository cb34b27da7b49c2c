// Package fileio opens files for sending and stores received ones.
package fileio

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/edsrzf/mmap-go"
)

// File is a read-only, memory-mapped view of a file on disk. Empty files are
// not mapped.
type File struct {
	f    *os.File
	m    mmap.MMap
	name string
	size int64
}

// Open maps path read-only. Close releases the mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	file := &File{f: f, name: filepath.Base(path), size: st.Size()}
	if file.size > 0 {
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("map %s: %w", path, err)
		}
		file.m = m
	}
	return file, nil
}

// Name returns the base name of the file.
func (f *File) Name() string { return f.name }

// Size returns the file size in bytes at open time.
func (f *File) Size() int64 { return f.size }

// ReadAt implements io.ReaderAt over the mapping.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(f.m)) {
		return 0, io.EOF
	}
	n := copy(p, f.m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps and closes the file.
func (f *File) Close() error {
	var err error
	if f.m != nil {
		err = f.m.Unmap()
		f.m = nil
	}
	if cerr := f.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// DetectMime guesses a MIME type from the file name, falling back to sniffing
// the file's leading bytes.
func (f *File) DetectMime() string {
	head := f.m
	if len(head) > 512 {
		head = head[:512]
	}
	return DetectMime(f.name, head)
}

// DetectMime guesses the MIME type of name, sniffing head when the extension
// is unknown. Parameters such as charset are dropped.
func DetectMime(name string, head []byte) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if t == "" {
		if len(head) == 0 {
			return "application/octet-stream"
		}
		t = http.DetectContentType(head)
	}
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}
