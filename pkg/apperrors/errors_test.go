package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdapterError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AdapterError
		want string
	}{
		{
			name: "operation and message",
			err:  NewAdapterError(AdapterErrorPlatform, "campaign_management-update_target_bid", "bid below minimum", nil),
			want: "platform error calling campaign_management-update_target_bid: bid below minimum",
		},
		{
			name: "with cause",
			err:  NewAdapterError(AdapterErrorTransport, "campaign_management-create_target", "call failed", errors.New("connection reset")),
			want: "transport error calling campaign_management-create_target: call failed: connection reset",
		},
		{
			name: "no operation",
			err:  NewAdapterError(AdapterErrorStructural, "", "Validation failed", nil),
			want: "structural error: Validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAdapterError_IsRetryable(t *testing.T) {
	assert.True(t, NewAdapterError(AdapterErrorTransport, "op", "", nil).IsRetryable())
	assert.False(t, NewAdapterError(AdapterErrorPlatform, "op", "", nil).IsRetryable())
	assert.False(t, NewAdapterError(AdapterErrorStructural, "op", "", nil).IsRetryable())
}

func TestAdapterError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("apply: %w", NewAdapterError(AdapterErrorTransport, "op", "", cause))

	var adapterErr *AdapterError
	assert.True(t, errors.As(err, &adapterErr))
	assert.ErrorIs(t, err, cause)
}

func TestSentinelHelpers(t *testing.T) {
	assert.ErrorIs(t, Validationf("missing %s", "scope"), ErrValidation)
	assert.ErrorIs(t, NotFoundf("change %s", "abc"), ErrNotFound)
	assert.ErrorIs(t, InvalidStatef("change is %s", "applied"), ErrInvalidState)
	assert.Equal(t, "validation failed: missing scope", Validationf("missing %s", "scope").Error())
}

func TestPartialCompositeError(t *testing.T) {
	err := &PartialCompositeError{
		Operation: "campaign bundle",
		ParentID:  "C1",
		Errors:    []string{"ad group 2: rejected"},
	}
	assert.Equal(t, "campaign bundle created C1 with 1 failed step(s): ad group 2: rejected", err.Error())
}
