package upload

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type fakeClient struct {
	constraints Constraints
	uploadID    string
	delay       time.Duration
	// honorContext makes a delayed part call return early with the context error.
	honorContext bool

	mu            sync.Mutex
	initiateCalls []*InitiateInput
	partCalls     []*PartInput
	completeCalls []*CompleteInput
	bodies        map[int][]byte
	initiateErr   error
	completeErr   error
	failParts     map[int]error

	inFlight    int32
	maxInFlight int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		constraints: Constraints{
			MinPartSize:     1,
			MaxParts:        10000,
			DefaultPartSize: 5,
			RequiredKeys:    []string{"bucket", "key"},
			UploadIDKey:     "upload_id",
		},
		uploadID:  "upload-1",
		bodies:    map[int][]byte{},
		failParts: map[int]error{},
	}
}

func (c *fakeClient) Constraints() Constraints {
	return c.constraints
}

func (c *fakeClient) Initiate(_ context.Context, input *InitiateInput) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.initiateCalls = append(c.initiateCalls, input)
	if c.initiateErr != nil {
		return "", c.initiateErr
	}
	return c.uploadID, nil
}

func (c *fakeClient) UploadPart(ctx context.Context, input *PartInput) (PartMetadata, error) {
	n := atomic.AddInt32(&c.inFlight, 1)
	defer atomic.AddInt32(&c.inFlight, -1)
	for {
		m := atomic.LoadInt32(&c.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&c.maxInFlight, m, n) {
			break
		}
	}

	if c.delay > 0 {
		if c.honorContext {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.delay):
			}
		} else {
			time.Sleep(c.delay)
		}
	}

	body, err := io.ReadAll(input.Body())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.partCalls = append(c.partCalls, input)
	if err := c.failParts[input.Number()]; err != nil {
		return nil, err
	}
	c.bodies[input.Number()] = body

	return PartMetadata{"etag": fmt.Sprintf("etag-%d", input.Number())}, nil
}

func (c *fakeClient) Complete(_ context.Context, input *CompleteInput) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.completeCalls = append(c.completeCalls, input)
	if c.completeErr != nil {
		return "", c.completeErr
	}

	bucket, _ := input.ID().Get("bucket")
	key, _ := input.ID().Get("key")
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

func (c *fakeClient) setFailPart(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failParts, n)
		return
	}
	c.failParts[n] = err
}

func (c *fakeClient) setCompleteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completeErr = err
}

func (c *fakeClient) uploadedNumbers() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var numbers []int
	for _, in := range c.partCalls {
		numbers = append(numbers, in.Number())
	}
	return numbers
}

func (c *fakeClient) counts() (initiate, parts, complete int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.initiateCalls), len(c.partCalls), len(c.completeCalls)
}

func (c *fakeClient) assembled() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []byte
	for n := 1; ; n++ {
		body, ok := c.bodies[n]
		if !ok {
			return out
		}
		out = append(out, body...)
	}
}

type abortingClient struct {
	*fakeClient
	aborted []ID
}

func (c *abortingClient) Abort(_ context.Context, id ID) error {
	c.aborted = append(c.aborted, id)
	return nil
}

func testID() ID {
	return ID{{Key: "bucket", Value: "my-bucket"}, {Key: "key", Value: "my-key"}}
}

func testSource(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 253)
	}
	return data
}
