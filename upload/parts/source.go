// Package parts slices a data source into numbered, independently uploadable parts.
// Sources can be random access (files, memory buffers) or streams whose length is unknown up front.
package parts

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Source is the data being uploaded.
// Size returns -1 when the total length is not known before the source is fully read.
type Source interface {
	Size() int64
}

// RandomAccessSource serves any byte range of the data.
// ReadAt must be safe for concurrent calls on disjoint ranges.
type RandomAccessSource interface {
	Source
	io.ReaderAt
}

// StreamSource is read front to back exactly once.
type StreamSource interface {
	Source
	io.Reader
}

// NewBytesSource returns a random access source over an in-memory buffer.
func NewBytesSource(data []byte) RandomAccessSource {
	return bytes.NewReader(data)
}

// NewReaderAtSource wraps r as a random access source of the given length.
func NewReaderAtSource(r io.ReaderAt, size int64) RandomAccessSource {
	return &readerAtSource{r: r, size: size}
}

type readerAtSource struct {
	r    io.ReaderAt
	size int64
}

func (s *readerAtSource) Size() int64 {
	return s.size
}

func (s *readerAtSource) ReadAt(p []byte, off int64) (int, error) {
	return s.r.ReadAt(p, off)
}

// FileSource reads parts from a file on disk.
// Safe for parallel part reads: every part is served through ReadAt.
type FileSource struct {
	file *os.File
	size int64
}

// OpenFile opens the file at path as a random access source.
func OpenFile(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &FileSource{
		file: file,
		size: info.Size(),
	}, nil
}

// Size returns the file size captured when the file was opened.
func (s *FileSource) Size() int64 {
	return s.size
}

// ReadAt reads len(p) bytes starting at off.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Name returns the path the source was opened with.
func (s *FileSource) Name() string {
	return s.file.Name()
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// NewStreamSource wraps r as a source of unknown length.
// Parts are buffered in memory one at a time as the sequence advances.
func NewStreamSource(r io.Reader) StreamSource {
	return &streamSource{r: r}
}

type streamSource struct {
	r io.Reader
}

func (s *streamSource) Size() int64 {
	return -1
}

func (s *streamSource) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

// Count returns how many parts a source of totalSize bytes is split into.
// An empty source still produces a single empty part.
func Count(totalSize, partSize int64) int {
	if totalSize <= 0 {
		return 1
	}
	return int((totalSize + partSize - 1) / partSize)
}

// Length returns the byte length of part number (1-based) of a source of totalSize bytes.
func Length(totalSize, partSize int64, number int) int64 {
	offset := int64(number-1) * partSize
	if offset >= totalSize {
		return 0
	}
	return min(partSize, totalSize-offset)
}
