package upload

import (
	"fmt"

	"github.com/docker/go-units"
)

// Constraints describe what a storage provider accepts for multipart uploads.
type Constraints struct {
	// MinPartSize is the smallest allowed size of every part except the last one.
	MinPartSize int64
	// MaxPartSize is the largest allowed part size; 0 means unlimited.
	MaxPartSize int64
	// MaxParts is the largest allowed part count; 0 means unlimited.
	MaxParts int
	// DefaultPartSize is used when the source size is not known up front.
	DefaultPartSize int64
	// Alignment, if set, every part size must be a multiple of.
	Alignment int64

	// RequiredKeys must be present in the upload ID before initiation.
	RequiredKeys []string
	// UploadIDKey is the ID field the upload id is stored under after initiation.
	UploadIDKey string
}

// ComputePartSize chooses the smallest part size that satisfies c for a source of totalSize bytes.
// A negative totalSize means the size is unknown, in which case the default part size is used.
func ComputePartSize(totalSize int64, c Constraints) (int64, error) {
	if totalSize < 0 {
		size := c.DefaultPartSize
		if size <= 0 {
			size = c.MinPartSize
		}
		if size <= 0 {
			return 0, &ConfigError{Field: "PartSize", Err: fmt.Errorf("source size is unknown and the client has no default part size")}
		}
		return align(size, c.Alignment), nil
	}

	size := max(c.MinPartSize, 1)
	if c.MaxParts > 0 {
		perPart := (totalSize + int64(c.MaxParts) - 1) / int64(c.MaxParts)
		size = max(size, perPart)
	}
	size = align(size, c.Alignment)

	if c.MaxPartSize > 0 && size > c.MaxPartSize {
		return 0, &ConfigError{
			Field: "PartSize",
			Err: fmt.Errorf("uploading %s in at most %d parts needs %s parts, larger than the %s limit",
				units.HumanSize(float64(totalSize)), c.MaxParts, units.HumanSize(float64(size)), units.HumanSize(float64(c.MaxPartSize))),
		}
	}

	return size, nil
}

func validatePartSize(partSize, totalSize int64, c Constraints) error {
	switch {
	case partSize <= 0:
		return &ConfigError{Field: "PartSize", Err: fmt.Errorf("must be positive, got %d", partSize)}
	case c.MaxPartSize > 0 && partSize > c.MaxPartSize:
		return &ConfigError{Field: "PartSize", Err: fmt.Errorf("%d exceeds the maximum part size %d", partSize, c.MaxPartSize)}
	case partSize < c.MinPartSize && (totalSize < 0 || totalSize > partSize):
		return &ConfigError{Field: "PartSize", Err: fmt.Errorf("%d is below the minimum part size %d", partSize, c.MinPartSize)}
	case c.Alignment > 0 && partSize%c.Alignment != 0:
		return &ConfigError{Field: "PartSize", Err: fmt.Errorf("%d is not a multiple of %d", partSize, c.Alignment)}
	}

	if totalSize >= 0 && c.MaxParts > 0 {
		if n := (totalSize + partSize - 1) / partSize; n > int64(c.MaxParts) {
			return &ConfigError{Field: "PartSize", Err: fmt.Errorf("%d bytes need %d parts of %d bytes, more than the %d allowed", totalSize, n, partSize, c.MaxParts)}
		}
	}
	return nil
}

func align(size, alignment int64) int64 {
	if alignment <= 0 {
		return size
	}
	if rem := size % alignment; rem != 0 {
		size += alignment - rem
	}
	return size
}
