package shipper_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tournevent/shipflow/pkg/shipper"
)

func TestShipperError_Error(t *testing.T) {
	err := shipper.NewShipperError("freightcom", shipper.CodeInvalidAddress, "Invalid postal code")
	assert.Equal(t, "freightcom error (INVALID_ADDRESS): Invalid postal code", err.Error())
}

func TestShipperError_Unwrap(t *testing.T) {
	cause := errors.New("network timeout")
	err := shipper.NewShipperError("freightcom", shipper.CodeProviderError, "API call failed").WithCause(cause)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "network timeout")
}

func TestShipperError_Is(t *testing.T) {
	err1 := shipper.NewShipperError("freightcom", shipper.CodeInvalidAddress, "Invalid postal code")
	err2 := shipper.NewShipperError("canadapost", shipper.CodeInvalidAddress, "Different message")
	err3 := shipper.NewShipperError("freightcom", shipper.CodeRateLimited, "Slow down")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status    int
		code      string
		retryable bool
	}{
		{http.StatusTooManyRequests, shipper.CodeRateLimited, true},
		{http.StatusBadGateway, shipper.CodeCarrierUnavailable, true},
		{http.StatusUnauthorized, shipper.CodeAuthentication, false},
		{http.StatusUnprocessableEntity, shipper.CodeCarrierRejected, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := shipper.ClassifyHTTPStatus("freightcom", tt.status, "", "failed")
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.status, err.StatusCode)
		})
	}
}

func TestClassifyHTTPStatus_KeepsCarrierCode(t *testing.T) {
	err := shipper.ClassifyHTTPStatus("freightcom", http.StatusBadRequest, shipper.CodeInvalidAddress, "bad postal code")
	assert.Equal(t, shipper.CodeInvalidAddress, err.Code)
	assert.False(t, err.Retryable)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, shipper.IsRetryable(shipper.NewShipperError("freightcom", shipper.CodeRateLimited, "x").WithRetryable(true)))
	assert.False(t, shipper.IsRetryable(shipper.NewShipperError("freightcom", shipper.CodeInvalidAddress, "x")))
	assert.True(t, shipper.IsRetryable(shipper.ErrServiceUnavailable))
	assert.True(t, shipper.IsRetryable(fmt.Errorf("wrapped: %w", shipper.ErrRateLimitExceeded)))
	assert.False(t, shipper.IsRetryable(shipper.ErrInvalidAddress))
}

func TestResultFromError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"shipper error", shipper.NewShipperError("purolator", shipper.CodeInvalidAddress, "bad").WithRetryable(false), shipper.CodeInvalidAddress, false},
		{"deadline", fmt.Errorf("calling carrier: %w", context.DeadlineExceeded), shipper.CodeProviderTimeout, true},
		{"rate limit", shipper.ErrRateLimitExceeded, shipper.CodeRateLimited, true},
		{"unavailable", shipper.ErrServiceUnavailable, shipper.CodeCarrierUnavailable, true},
		{"invalid address", shipper.ErrInvalidAddress, shipper.CodeInvalidAddress, false},
		{"auth", shipper.ErrAuthenticationFailed, shipper.CodeProviderError, false},
		{"unknown", errors.New("connection reset"), shipper.CodeProviderError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := shipper.ResultFromError(tt.err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.code, res.ErrorCode)
			assert.Equal(t, tt.retryable, res.Retryable)
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestWebhookResult_Matched(t *testing.T) {
	var nilResult *shipper.WebhookResult
	assert.False(t, nilResult.Matched())
	assert.False(t, shipper.Invalid().Matched())
	assert.False(t, (&shipper.WebhookResult{Valid: true}).Matched())
	assert.True(t, (&shipper.WebhookResult{Valid: true, OrderID: "o-1"}).Matched())
}
