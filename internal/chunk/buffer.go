package chunk

import (
	"errors"
	"fmt"

	"github.com/ssd-technologies/takedat/internal/protocol"
)

var (
	ErrDuplicateChunk     = errors.New("duplicate chunk")
	ErrInvalidIndex       = errors.New("invalid chunk index")
	ErrChunkSize          = errors.New("chunk has wrong length")
	ErrIncompleteTransfer = errors.New("incomplete transfer")
)

// Buffer holds received chunks keyed by index until the whole file is
// present. A duplicate index keeps the first copy, so the received count
// never exceeds the total.
type Buffer struct {
	meta     protocol.FileMeta
	chunks   map[int][]byte
	received int64
}

// NewBuffer creates an empty buffer for the file described by meta.
func NewBuffer(meta protocol.FileMeta) (*Buffer, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if meta.ChunkSize > MaxSize {
		return nil, fmt.Errorf("%w: chunk size %d exceeds %d", protocol.ErrInvalidMeta, meta.ChunkSize, MaxSize)
	}
	// The map grows as chunks arrive; totalChunks comes from the peer.
	return &Buffer{
		meta:   meta,
		chunks: make(map[int][]byte),
	}, nil
}

// Meta returns the metadata the buffer was built from.
func (b *Buffer) Meta() protocol.FileMeta { return b.meta }

// AddChunk stores data under index and reports whether the buffer is now
// complete. Rejected chunks leave the buffer untouched.
func (b *Buffer) AddChunk(index int, data []byte) (bool, error) {
	if index < 0 || index >= b.meta.TotalChunks {
		return b.IsComplete(), fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, b.meta.TotalChunks)
	}
	if _, ok := b.chunks[index]; ok {
		return b.IsComplete(), fmt.Errorf("%w: %d", ErrDuplicateChunk, index)
	}
	if want := b.meta.ChunkLen(index); len(data) != want {
		return b.IsComplete(), fmt.Errorf("%w: chunk %d is %d bytes, want %d", ErrChunkSize, index, len(data), want)
	}
	b.chunks[index] = data
	b.received += int64(len(data))
	return b.IsComplete(), nil
}

// Received returns the number of distinct chunks held.
func (b *Buffer) Received() int { return len(b.chunks) }

// ReceivedBytes returns the payload bytes held.
func (b *Buffer) ReceivedBytes() int64 { return b.received }

// Progress returns received/total in [0, 1]. An empty file is complete.
func (b *Buffer) Progress() float64 {
	if b.meta.TotalChunks == 0 {
		return 1
	}
	return float64(len(b.chunks)) / float64(b.meta.TotalChunks)
}

// IsComplete reports whether every index in [0, total) is present.
func (b *Buffer) IsComplete() bool {
	return len(b.chunks) == b.meta.TotalChunks
}

// Missing lists absent indices in ascending order.
func (b *Buffer) Missing() []int {
	var out []int
	for i := 0; i < b.meta.TotalChunks; i++ {
		if _, ok := b.chunks[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// Assemble concatenates the chunks in index order. It fails with
// ErrIncompleteTransfer rather than return a short file.
func (b *Buffer) Assemble() ([]byte, error) {
	if !b.IsComplete() {
		return nil, fmt.Errorf("%w: %d of %d chunks", ErrIncompleteTransfer, len(b.chunks), b.meta.TotalChunks)
	}
	out := make([]byte, 0, b.meta.FileSize)
	for i := 0; i < b.meta.TotalChunks; i++ {
		out = append(out, b.chunks[i]...)
	}
	if int64(len(out)) != b.meta.FileSize {
		return nil, fmt.Errorf("%w: assembled %d bytes, want %d", ErrIncompleteTransfer, len(out), b.meta.FileSize)
	}
	return out, nil
}
