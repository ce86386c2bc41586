package parts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrTooManyParts is returned when a source needs more parts than the provider accepts.
var ErrTooManyParts = errors.New("source needs more parts than the provider allows")

// Part describes one contiguous byte range of a source.
type Part struct {
	// Number is the 1-based part number.
	Number int
	Offset int64
	Size   int64
	// Body can be rewound, so a client may retry the part without asking for it again.
	Body io.ReadSeeker
}

// Options configure how a Sequence slices its source.
type Options struct {
	// PartSize is the byte size of every part except possibly the last one.
	PartSize int64

	// MaxParts caps the part count; 0 means no cap.
	MaxParts int

	// Skip reports part numbers that must not be produced again, typically
	// parts already recorded as uploaded. Skipped parts still advance the offset.
	Skip func(number int) bool
}

// Sequence lazily produces the parts of a source in ascending part number order.
// It is not safe for concurrent use; the bodies it returns are.
type Sequence struct {
	src    Source
	ra     io.ReaderAt
	stream io.Reader
	opts   Options

	next   int
	offset int64
	done   bool
}

// NewSequence creates a part sequence over src.
func NewSequence(src Source, opts Options) (*Sequence, error) {
	if opts.PartSize <= 0 {
		return nil, fmt.Errorf("part size must be positive, got %d", opts.PartSize)
	}

	s := &Sequence{
		src:  src,
		opts: opts,
		next: 1,
	}

	switch v := src.(type) {
	case io.ReaderAt:
		if src.Size() < 0 {
			return nil, fmt.Errorf("random access source must report its size")
		}
		s.ra = v
	case io.Reader:
		s.stream = v
	default:
		return nil, fmt.Errorf("unsupported source type: %T", src)
	}

	return s, nil
}

// Next returns the next part to upload. ok is false once the source is exhausted.
func (s *Sequence) Next() (part Part, ok bool, err error) {
	for !s.done {
		if s.ra != nil {
			part, ok, err = s.nextSection()
		} else {
			part, ok, err = s.nextBuffered()
		}
		if err != nil || !ok {
			return Part{}, false, err
		}

		if s.opts.Skip != nil && s.opts.Skip(part.Number) {
			continue
		}
		return part, true, nil
	}
	return Part{}, false, nil
}

func (s *Sequence) nextSection() (Part, bool, error) {
	size := s.src.Size()
	number := s.next
	offset := int64(number-1) * s.opts.PartSize

	// An empty source still uploads one empty part.
	if offset >= size && !(number == 1 && size == 0) {
		s.done = true
		return Part{}, false, nil
	}
	if err := s.checkLimit(number); err != nil {
		return Part{}, false, err
	}

	n := min(s.opts.PartSize, size-offset)
	s.next++
	s.offset = offset + n

	return Part{
		Number: number,
		Offset: offset,
		Size:   n,
		Body:   io.NewSectionReader(s.ra, offset, n),
	}, true, nil
}

func (s *Sequence) nextBuffered() (Part, bool, error) {
	number := s.next
	buf := make([]byte, s.opts.PartSize)

	n, err := io.ReadFull(s.stream, buf)
	switch {
	case errors.Is(err, io.EOF):
		s.done = true
		if number > 1 {
			return Part{}, false, nil
		}
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
	case err != nil:
		s.done = true
		return Part{}, false, fmt.Errorf("read part %d: %w", number, err)
	}

	if err := s.checkLimit(number); err != nil {
		s.done = true
		return Part{}, false, err
	}

	offset := s.offset
	s.next++
	s.offset += int64(n)

	return Part{
		Number: number,
		Offset: offset,
		Size:   int64(n),
		Body:   bytes.NewReader(buf[:n]),
	}, true, nil
}

func (s *Sequence) checkLimit(number int) error {
	if s.opts.MaxParts > 0 && number > s.opts.MaxParts {
		return fmt.Errorf("part %d with part size %d: %w (max %d)", number, s.opts.PartSize, ErrTooManyParts, s.opts.MaxParts)
	}
	return nil
}
