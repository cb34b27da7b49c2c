package chunk

import (
	"errors"
	"fmt"
	"io"

	"github.com/ssd-technologies/takedat/internal/protocol"
)

var (
	ErrIndexOutOfRange = errors.New("chunk index out of range")
	ErrChunkSizeRange  = errors.New("chunk size out of range")
)

// TotalChunks returns ceil(fileSize / chunkSize).
func TotalChunks(fileSize int64, chunkSize int) int {
	if fileSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((fileSize + int64(chunkSize) - 1) / int64(chunkSize))
}

// Source materializes chunks of a file on demand. Reads go through ReadAt, so
// ChunkAt is idempotent and leaves no cursor state behind.
type Source struct {
	r         io.ReaderAt
	size      int64
	chunkSize int
	total     int
	name      string
	mime      string
}

// NewSource creates a Source over r, which must hold size bytes.
func NewSource(r io.ReaderAt, size int64, name, mime string, chunkSize int) (*Source, error) {
	if chunkSize <= 0 || chunkSize > MaxSize {
		return nil, fmt.Errorf("%w: %d", ErrChunkSizeRange, chunkSize)
	}
	if size < 0 {
		return nil, fmt.Errorf("negative file size %d", size)
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	return &Source{
		r:         r,
		size:      size,
		chunkSize: chunkSize,
		total:     TotalChunks(size, chunkSize),
		name:      name,
		mime:      mime,
	}, nil
}

// TotalChunks is constant for the lifetime of the Source.
func (s *Source) TotalChunks() int { return s.total }

// Size returns the file size in bytes.
func (s *Source) Size() int64 { return s.size }

// ChunkAt returns the bytes [index*chunkSize, min((index+1)*chunkSize, size)).
func (s *Source) ChunkAt(index int) ([]byte, error) {
	if index < 0 || index >= s.total {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, s.total)
	}
	off := int64(index) * int64(s.chunkSize)
	n := int64(s.chunkSize)
	if rest := s.size - off; rest < n {
		n = rest
	}
	buf := make([]byte, n)
	read, err := s.r.ReadAt(buf, off)
	if int64(read) == n {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("read chunk %d: %w", index, err)
}

// Meta returns the metadata announced to the receiver.
func (s *Source) Meta() protocol.FileMeta {
	return protocol.FileMeta{
		FileName:    s.name,
		FileSize:    s.size,
		MimeType:    s.mime,
		TotalChunks: s.total,
		ChunkSize:   s.chunkSize,
	}
}
