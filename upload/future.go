package upload

import "context"

// Future is the pending result of UploadAsync.
type Future[R any] struct {
	done  chan struct{}
	value R
	err   error
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

func (f *Future[R]) resolve(value R, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done is closed once the upload finished.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the upload finished and returns what Upload would have returned.
func (f *Future[R]) Wait() (R, error) {
	<-f.done
	return f.value, f.err
}

// WaitContext is like Wait but gives up when ctx is done. The upload itself keeps running
// until the context it was started with is done.
func (f *Future[R]) WaitContext(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
