package upload

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrAlreadyCompleted is returned when an upload is attempted on a completed state.
	ErrAlreadyCompleted = errors.New("upload already completed")
	// ErrStateInUse is returned when a state is already driven by another Upload call.
	ErrStateInUse = errors.New("upload state is in use by another upload")
	// ErrInvalidState is returned when a state violates its invariants, typically after loading it.
	ErrInvalidState = errors.New("invalid upload state")
)

// Op names the stage of an upload an error belongs to.
type Op string

const (
	OpPrepare    Op = "prepare"
	OpInitiate   Op = "initiate"
	OpUploadPart Op = "upload-part"
	OpComplete   Op = "complete"
	OpAbort      Op = "abort"
)

// ConfigError is returned before any network call when the configuration can't be satisfied.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// CallError wraps every failure of a client call, whatever the client's error type is.
type CallError struct {
	Op Op
	// PartNumber is set for OpUploadPart.
	PartNumber int
	Err        error
}

func (e *CallError) Error() string {
	if e.Op == OpUploadPart {
		return fmt.Sprintf("%s %d: %s", e.Op, e.PartNumber, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Failure is the error every failed upload attempt returns.
// State is the upload state as left by the attempt; passing it to a new Upload call resumes the upload.
type Failure struct {
	Op    Op
	State *State
	// PartErrors holds the error of every part that failed, keyed by part number.
	PartErrors map[int]error
	// Err is the cause of a failure that is not a part failure, such as a cancelled context.
	Err error
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString("multipart upload failed")
	if f.State != nil {
		if id := f.State.ID(); len(id) > 0 {
			fmt.Fprintf(&b, " (%s)", id)
		}
	}

	if f.Err != nil {
		fmt.Fprintf(&b, ": %s", f.Err)
	}

	if len(f.PartErrors) > 0 {
		var merr *multierror.Error
		merr = multierror.Append(merr, f.sortedPartErrors()...)
		merr.ErrorFormat = func(errs []error) string {
			lines := make([]string, 0, len(errs))
			for _, err := range errs {
				lines = append(lines, "\t* "+err.Error())
			}
			return fmt.Sprintf("%d part(s) failed:\n%s", len(errs), strings.Join(lines, "\n"))
		}
		fmt.Fprintf(&b, ": %s", merr.Error())
	}

	return b.String()
}

// Unwrap exposes the cause and every part error to errors.Is and errors.As.
func (f *Failure) Unwrap() []error {
	errs := make([]error, 0, len(f.PartErrors)+1)
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return append(errs, f.sortedPartErrors()...)
}

// FailedParts returns the numbers of the failed parts in ascending order.
func (f *Failure) FailedParts() []int {
	numbers := make([]int, 0, len(f.PartErrors))
	for n := range f.PartErrors {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}

func (f *Failure) sortedPartErrors() []error {
	errs := make([]error, 0, len(f.PartErrors))
	for _, n := range f.FailedParts() {
		errs = append(errs, f.PartErrors[n])
	}
	return errs
}
