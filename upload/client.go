package upload

import (
	"context"
	"io"
)

// Client is the storage service a Manager uploads to. R is the result of completing an upload.
//
// Implementations own their retry policy; the Manager treats every returned error as final for that call.
type Client[R any] interface {
	// Constraints returns the provider's part size limits and identifier layout.
	Constraints() Constraints
	// Initiate starts a multipart upload and returns its upload id.
	Initiate(ctx context.Context, input *InitiateInput) (string, error)
	// UploadPart uploads one part and returns what Complete needs to know about it.
	UploadPart(ctx context.Context, input *PartInput) (PartMetadata, error)
	// Complete assembles the uploaded parts into the final object.
	Complete(ctx context.Context, input *CompleteInput) (R, error)
}

// Aborter is implemented by clients that can discard an initiated upload and its parts.
type Aborter interface {
	Abort(ctx context.Context, id ID) error
}

// InitiateInput is passed to Client.Initiate.
type InitiateInput struct {
	id ID

	// ContentType and Metadata describe the final object. Hooks may change them.
	ContentType string
	Metadata    map[string]string
}

// NewInitiateInput creates the input of an initiate call.
func NewInitiateInput(id ID) *InitiateInput {
	return &InitiateInput{id: id.clone()}
}

// ID returns the identifier of the upload being initiated.
func (in *InitiateInput) ID() ID {
	return in.id.clone()
}

// PartInput is passed to Client.UploadPart.
type PartInput struct {
	id     ID
	number int
	offset int64
	size   int64
	body   io.ReadSeeker

	// Header carries optional per-request decoration, such as checksum headers.
	Header map[string]string
}

// NewPartInput creates the input of an upload-part call.
func NewPartInput(id ID, number int, offset, size int64, body io.ReadSeeker) *PartInput {
	return &PartInput{
		id:     id.clone(),
		number: number,
		offset: offset,
		size:   size,
		body:   body,
		Header: map[string]string{},
	}
}

// ID returns the identifier of the upload, including its upload id.
func (in *PartInput) ID() ID {
	return in.id.clone()
}

// Number is the 1-based part number.
func (in *PartInput) Number() int {
	return in.number
}

// Offset is the position of the part in the source.
func (in *PartInput) Offset() int64 {
	return in.offset
}

// Size is the byte length of the part.
func (in *PartInput) Size() int64 {
	return in.size
}

// Body returns the part content. It can be rewound to retry the call.
func (in *PartInput) Body() io.ReadSeeker {
	return in.body
}

// CompleteInput is passed to Client.Complete.
type CompleteInput struct {
	id    ID
	parts []UploadedPart

	// Metadata carries optional caller data for the complete call.
	Metadata map[string]string
}

// NewCompleteInput creates the input of a complete call. parts must be sorted by part number.
func NewCompleteInput(id ID, parts []UploadedPart) *CompleteInput {
	return &CompleteInput{
		id:       id.clone(),
		parts:    parts,
		Metadata: map[string]string{},
	}
}

// ID returns the identifier of the upload, including its upload id.
func (in *CompleteInput) ID() ID {
	return in.id.clone()
}

// Parts returns the uploaded parts sorted by part number, each number once.
func (in *CompleteInput) Parts() []UploadedPart {
	out := make([]UploadedPart, len(in.parts))
	copy(out, in.parts)
	return out
}
