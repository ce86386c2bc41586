package upload

import (
	"context"

	"github.com/bitrise-io/go-multipart/upload/parts"
)

// DefaultConcurrency is the number of parts uploaded at the same time unless configured otherwise.
const DefaultConcurrency = 5

// Config holds the options of one Upload call.
type Config struct {
	// ID addresses the upload on the remote service. It must contain the client's required keys.
	// Ignored when State is set.
	ID ID

	// PartSize is the byte size parts are sliced with. If 0, it is computed from the source size
	// and the client's constraints. Ignored when State is set, except that a mismatch is an error.
	PartSize int64

	// State resumes an earlier upload. If nil, a new state is created; a failed upload returns it
	// in the *Failure.
	State *State

	// Concurrency is the maximum number of parts uploaded at the same time.
	// Default: 5
	Concurrency int

	// ContentType and Metadata are passed to the initiate call.
	ContentType string
	Metadata    map[string]string

	// BeforeInitiate, BeforeUpload and BeforeComplete run right before the corresponding call.
	// They may decorate the input but can't change which upload or part it addresses.
	BeforeInitiate func(*InitiateInput)
	BeforeUpload   func(*PartInput)
	BeforeComplete func(*CompleteInput)

	// PrepareSource runs once before initiation, for example to validate the source.
	PrepareSource func(ctx context.Context, src parts.Source) error

	// ErrorKind converts the failure of an Upload call into the error returned to the caller.
	// If nil, the *Failure itself is returned.
	ErrorKind func(*Failure) error

	// OnProgress receives every progress checkpoint crossed. If nil, checkpoints are logged.
	OnProgress func(Progress)

	// Metrics records part and upload metrics when set.
	Metrics *Metrics
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}
