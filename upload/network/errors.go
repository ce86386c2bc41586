package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/smithy-go"
)

// Fault tells which side of a failed call was at fault.
type Fault string

const (
	FaultClient  Fault = "client"
	FaultServer  Fault = "server"
	FaultUnknown Fault = "unknown"
)

// APIError is a failed call to the storage service, independent of which service it was.
type APIError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Fault      Fault
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classify converts smithy API errors into *APIError and wraps everything else with the op.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		return &APIError{
			Op:      op,
			Code:    apiError.ErrorCode(),
			Message: apiError.ErrorMessage(),
			Fault:   smithyFault(apiError.ErrorFault()),
			Err:     err,
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func smithyFault(f smithy.ErrorFault) Fault {
	switch f {
	case smithy.FaultClient:
		return FaultClient
	case smithy.FaultServer:
		return FaultServer
	}
	return FaultUnknown
}

// isRetryable reports whether a call that failed with err may succeed when repeated.
// Client faults and cancellation are final.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Fault != FaultClient
	}
	return true
}

func unwrapError(op string, resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read error response: %w", op, err)
	}

	fault := FaultServer
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		fault = FaultClient
	}
	return &APIError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Message:    string(errorResp),
		Fault:      fault,
	}
}
