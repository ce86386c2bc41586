package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_classify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantFault     Fault
		wantRetryable bool
		wantMessage   string
	}{
		{
			name:          "client fault",
			err:           &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied", Fault: smithy.FaultClient},
			wantFault:     FaultClient,
			wantRetryable: false,
			wantMessage:   "upload part 1: AccessDenied: denied",
		},
		{
			name:          "server fault",
			err:           &smithy.GenericAPIError{Code: "SlowDown", Message: "slow down", Fault: smithy.FaultServer},
			wantFault:     FaultServer,
			wantRetryable: true,
			wantMessage:   "upload part 1: SlowDown: slow down",
		},
		{
			name:          "wrapped unknown fault",
			err:           fmt.Errorf("operation error: %w", &smithy.GenericAPIError{Code: "Odd", Message: "odd"}),
			wantFault:     FaultUnknown,
			wantRetryable: true,
			wantMessage:   "upload part 1: Odd: odd",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("upload part 1", tt.err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.wantFault, apiErr.Fault)
			assert.Equal(t, tt.wantRetryable, isRetryable(err))
			assert.Equal(t, tt.wantMessage, err.Error())
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func Test_classify_PlainError(t *testing.T) {
	cause := errors.New("connection reset")

	err := classify("complete multipart upload", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "complete multipart upload: connection reset", err.Error())
	assert.True(t, isRetryable(err))
	assert.NoError(t, classify("op", nil))
}

func Test_isRetryable_Context(t *testing.T) {
	assert.False(t, isRetryable(classify("op", context.Canceled)))
	assert.False(t, isRetryable(classify("op", context.DeadlineExceeded)))
}

func Test_unwrapError(t *testing.T) {
	tests := []struct {
		status    int
		wantFault Fault
	}{
		{status: http.StatusBadRequest, wantFault: FaultClient},
		{status: http.StatusNotFound, wantFault: FaultClient},
		{status: http.StatusBadGateway, wantFault: FaultServer},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Body: io.NopCloser(strings.NewReader("oops"))}

			err := unwrapError("acknowledge upload", resp)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.wantFault, apiErr.Fault)
			assert.Equal(t, fmt.Sprintf("acknowledge upload: HTTP %d: oops", tt.status), err.Error())
		})
	}
}
