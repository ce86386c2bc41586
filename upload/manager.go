// Package upload implements a resumable multipart upload engine.
//
// A Manager slices a source into parts, uploads them through a Client with bounded concurrency and
// records every uploaded part in a State. A failed upload returns a *Failure holding the State;
// calling Upload again with that State uploads only the missing parts.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-multipart/upload/executor"
	"github.com/bitrise-io/go-multipart/upload/parts"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// DefaultUploadIDKey is the ID field the upload id is stored under when the client doesn't name one.
const DefaultUploadIDKey = "upload_id"

// Manager drives multipart uploads through a Client.
type Manager[R any] struct {
	client Client[R]
	logger log.Logger
}

// NewManager creates a Manager. A nil logger defaults to log.NewLogger().
func NewManager[R any](client Client[R], logger log.Logger) *Manager[R] {
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Manager[R]{
		client: client,
		logger: logger,
	}
}

// Upload uploads src and returns the result of the complete call.
//
// Every error returned is a *Failure, or the error config.ErrorKind converted it to.
// The state of a failed upload can be passed back through Config.State to resume it.
func (m *Manager[R]) Upload(ctx context.Context, src parts.Source, config Config) (R, error) {
	var zero R
	config = config.withDefaults()

	state, err := m.resolveState(src, config)
	if err != nil {
		return zero, m.fail(config, &Failure{Op: OpPrepare, State: config.State, Err: err})
	}

	if err := state.acquire(); err != nil {
		return zero, m.fail(config, &Failure{Op: OpPrepare, State: state, Err: err})
	}
	defer state.release()

	// Checked again under exclusive use: another call might have completed it meanwhile.
	if state.IsCompleted() {
		return zero, m.fail(config, &Failure{Op: OpPrepare, State: state, Err: ErrAlreadyCompleted})
	}

	start := time.Now()

	if !state.IsInitiated() {
		if failure := m.initiate(ctx, src, state, config); failure != nil {
			return zero, m.fail(config, failure)
		}
	} else {
		m.logger.Infof("Resuming upload %s with %d part(s) already uploaded", state.UploadID(), len(state.UploadedParts()))
	}

	if failure := m.uploadParts(ctx, src, state, config); failure != nil {
		return zero, m.fail(config, failure)
	}

	result, failure := m.complete(ctx, state, config)
	if failure != nil {
		return zero, m.fail(config, failure)
	}

	config.Metrics.uploadFinished(nil)
	m.logger.Donef("Upload %s completed in %s", state.UploadID(), time.Since(start).Round(time.Millisecond))

	return result, nil
}

// UploadAsync starts Upload on a new goroutine and returns a handle to its result.
func (m *Manager[R]) UploadAsync(ctx context.Context, src parts.Source, config Config) *Future[R] {
	f := newFuture[R]()
	go func() {
		f.resolve(m.Upload(ctx, src, config))
	}()
	return f
}

// Abort discards an initiated upload on the remote service, if the client supports it.
// The state must not be uploaded with afterwards.
func (m *Manager[R]) Abort(ctx context.Context, state *State) error {
	aborter, ok := m.client.(Aborter)
	if !ok {
		return &Failure{Op: OpAbort, State: state, Err: errors.New("client does not support aborting uploads")}
	}

	if err := state.acquire(); err != nil {
		return &Failure{Op: OpAbort, State: state, Err: err}
	}
	defer state.release()

	switch state.Status() {
	case StatusCreated:
		return nil
	case StatusCompleted:
		return &Failure{Op: OpAbort, State: state, Err: ErrAlreadyCompleted}
	}

	if err := aborter.Abort(ctx, state.ID()); err != nil {
		return &Failure{Op: OpAbort, State: state, Err: &CallError{Op: OpAbort, Err: err}}
	}
	m.logger.Infof("Upload %s aborted", state.UploadID())
	return nil
}

func (m *Manager[R]) resolveState(src parts.Source, config Config) (*State, error) {
	c := m.client.Constraints()
	uploadIDKey := c.UploadIDKey
	if uploadIDKey == "" {
		uploadIDKey = DefaultUploadIDKey
	}

	if state := config.State; state != nil {
		if state.IsCompleted() {
			return nil, ErrAlreadyCompleted
		}
		if config.PartSize != 0 && config.PartSize != state.PartSize() {
			return nil, &ConfigError{
				Field: "PartSize",
				Err:   fmt.Errorf("%d differs from the part size %d of the state being resumed", config.PartSize, state.PartSize()),
			}
		}
		if err := validatePartSize(state.PartSize(), src.Size(), c); err != nil {
			return nil, err
		}
		if err := checkRecordedParts(state, src.Size()); err != nil {
			return nil, err
		}
		if !state.IsInitiated() {
			if err := checkRequiredKeys(state.ID(), c.RequiredKeys); err != nil {
				return nil, err
			}
		}
		return state, nil
	}

	if err := checkRequiredKeys(config.ID, c.RequiredKeys); err != nil {
		return nil, err
	}

	partSize := config.PartSize
	if partSize == 0 {
		size, err := ComputePartSize(src.Size(), c)
		if err != nil {
			return nil, err
		}
		partSize = size
	}
	if err := validatePartSize(partSize, src.Size(), c); err != nil {
		return nil, err
	}

	// An upload id without a state resumes with no part known as uploaded.
	if uploadID, ok := config.ID.Get(uploadIDKey); ok {
		if uploadID == "" {
			return nil, &ConfigError{Field: "ID", Err: fmt.Errorf("%q is empty", uploadIDKey)}
		}
		return ResumeState(config.ID, uploadIDKey, partSize, nil)
	}

	return NewState(config.ID, partSize)
}

// checkRecordedParts rejects a state recording parts a source of totalSize bytes doesn't have.
func checkRecordedParts(state *State, totalSize int64) error {
	if totalSize < 0 {
		return nil
	}
	count := parts.Count(totalSize, state.PartSize())
	for _, p := range state.UploadedParts() {
		if p.Number > count {
			return fmt.Errorf("%w: part %d is recorded but the source only has %d part(s)", ErrInvalidState, p.Number, count)
		}
	}
	return nil
}

func checkRequiredKeys(id ID, keys []string) error {
	for _, key := range keys {
		if v, ok := id.Get(key); !ok || v == "" {
			return &ConfigError{Field: "ID", Err: fmt.Errorf("missing required field %q", key)}
		}
	}
	return nil
}

func (m *Manager[R]) initiate(ctx context.Context, src parts.Source, state *State, config Config) *Failure {
	if config.PrepareSource != nil {
		if err := config.PrepareSource(ctx, src); err != nil {
			return &Failure{Op: OpPrepare, State: state, Err: &CallError{Op: OpPrepare, Err: err}}
		}
	}

	input := NewInitiateInput(state.ID())
	input.ContentType = config.ContentType
	input.Metadata = config.Metadata
	if config.BeforeInitiate != nil {
		config.BeforeInitiate(input)
	}

	uploadID, err := m.client.Initiate(ctx, input)
	if err == nil && uploadID == "" {
		err = errors.New("empty upload id returned")
	}
	if err != nil {
		return &Failure{Op: OpInitiate, State: state, Err: &CallError{Op: OpInitiate, Err: err}}
	}

	uploadIDKey := m.client.Constraints().UploadIDKey
	if uploadIDKey == "" {
		uploadIDKey = DefaultUploadIDKey
	}
	if err := state.markInitiated(uploadIDKey, uploadID); err != nil {
		return &Failure{Op: OpInitiate, State: state, Err: err}
	}

	m.logger.Infof("Upload %s initiated (part size: %s)", uploadID, units.HumanSizeWithPrecision(float64(state.PartSize()), 3))
	return nil
}

func (m *Manager[R]) uploadParts(ctx context.Context, src parts.Source, state *State, config Config) *Failure {
	c := m.client.Constraints()
	handler := newResultHandler(state, config, m.logger)

	totalSize := src.Size()
	if totalSize >= 0 {
		state.initProgressThresholds(totalSize)

		var baseline int64
		for _, p := range state.UploadedParts() {
			baseline += parts.Length(totalSize, state.PartSize(), p.Number)
		}
		handler.progress(state.setUploadedBytes(baseline))
	}

	seq, err := parts.NewSequence(src, parts.Options{
		PartSize: state.PartSize(),
		MaxParts: c.MaxParts,
		Skip:     state.HasPartBeenUploaded,
	})
	if err != nil {
		return &Failure{Op: OpUploadPart, State: state, Err: err}
	}

	id := state.ID()
	next := func() (*PartInput, bool, error) {
		part, ok, err := seq.Next()
		if err != nil || !ok {
			return nil, false, err
		}
		return NewPartInput(id, part.Number, part.Offset, part.Size, part.Body), true, nil
	}

	exec := executor.New[*PartInput, PartMetadata](executor.Config{Concurrency: config.Concurrency}, func(input *PartInput) {
		if config.BeforeUpload != nil {
			config.BeforeUpload(input)
		}
		config.Metrics.partDispatched()
		m.logger.Debugf("Uploading part %d (%s)", input.Number(), units.HumanSizeWithPrecision(float64(input.Size()), 3))
	})

	runErr := exec.Run(ctx, next, m.client.UploadPart, handler.handle)

	stats := exec.Stats()
	m.logger.Debugf("%d part(s) uploaded, %d failed, average part upload time: %s",
		stats.FinishedCount(), stats.FailedCount(), stats.Average().Round(time.Millisecond))

	if runErr != nil {
		if errors.Is(runErr, parts.ErrTooManyParts) {
			runErr = &ConfigError{Field: "PartSize", Err: runErr}
		}
		return &Failure{Op: OpUploadPart, State: state, PartErrors: nonEmpty(handler.errs), Err: runErr}
	}
	if len(handler.errs) > 0 {
		return &Failure{Op: OpUploadPart, State: state, PartErrors: handler.errs}
	}

	return nil
}

func (m *Manager[R]) complete(ctx context.Context, state *State, config Config) (R, *Failure) {
	var zero R

	input := NewCompleteInput(state.ID(), state.UploadedParts())
	if config.BeforeComplete != nil {
		config.BeforeComplete(input)
	}

	result, err := m.client.Complete(ctx, input)
	if err != nil {
		return zero, &Failure{Op: OpComplete, State: state, Err: &CallError{Op: OpComplete, Err: err}}
	}

	if err := state.markCompleted(); err != nil {
		return zero, &Failure{Op: OpComplete, State: state, Err: err}
	}
	return result, nil
}

func (m *Manager[R]) fail(config Config, failure *Failure) error {
	config.Metrics.uploadFinished(failure)
	m.logger.Errorf("%s", failure)

	if config.ErrorKind != nil {
		return config.ErrorKind(failure)
	}
	return failure
}

func nonEmpty(errs map[int]error) map[int]error {
	if len(errs) == 0 {
		return nil
	}
	return errs
}
