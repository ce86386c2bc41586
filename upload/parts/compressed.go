package parts

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// CompressedSource is a stream source that zstd-compresses the wrapped reader on the fly.
// Its size is unknown until the stream is exhausted, so parts are produced the streaming way.
type CompressedSource struct {
	pr   *io.PipeReader
	done chan struct{}
}

// NewCompressedSource starts compressing r in the background at the given zstd level
// (see zstd.EncoderLevelFromZstd). Close must be called to release the encoder goroutine.
func NewCompressedSource(r io.Reader, level int) (*CompressedSource, error) {
	pr, pw := io.Pipe()

	zstdWriter, err := zstd.NewWriter(pw,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}

	s := &CompressedSource{
		pr:   pr,
		done: make(chan struct{}),
	}

	go func() {
		defer close(s.done)

		if _, err := io.Copy(zstdWriter, r); err != nil {
			_ = zstdWriter.Close()
			pw.CloseWithError(fmt.Errorf("compress: %w", err))
			return
		}
		if err := zstdWriter.Close(); err != nil {
			pw.CloseWithError(fmt.Errorf("close zstd writer: %w", err))
			return
		}
		_ = pw.Close()
	}()

	return s, nil
}

// Size is always unknown for compressed data.
func (s *CompressedSource) Size() int64 {
	return -1
}

// Read returns compressed bytes.
func (s *CompressedSource) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// Close stops the compression goroutine and waits for it to exit.
func (s *CompressedSource) Close() error {
	err := s.pr.Close()
	<-s.done
	return err
}
