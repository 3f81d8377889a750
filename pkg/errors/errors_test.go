package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NewConfigurationError("no resolvable room identifier")
	assert.Equal(t, "CONFIGURATION_ERROR: no resolvable room identifier", err.Error())

	cause := errors.New("dial tcp: refused")
	wrapped := NewTransportError("failed to open room", cause)
	assert.Contains(t, wrapped.Error(), "TRANSPORT_ERROR")
	assert.Contains(t, wrapped.Error(), "dial tcp: refused")
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("backend said no")
	err := NewBackendRequestError("session create rejected", cause)
	assert.ErrorIs(t, err, cause)
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"configuration", NewConfigurationError("bad input"), ErrCodeConfiguration},
		{"transport", NewTransportError("down", nil), ErrCodeTransport},
		{"backend", NewBackendRequestError("no", nil), ErrCodeBackendRequest},
		{"protocol", NewProtocolError("garbage", nil), ErrCodeProtocol},
		{"plain error", errors.New("boom"), ErrCodeInternal},
		{"wrapped app error", fmt.Errorf("outer: %w", NewProtocolError("inner", nil)), ErrCodeProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIsCode(t *testing.T) {
	err := NewTransportError("publish failed", nil)
	assert.True(t, IsCode(err, ErrCodeTransport))
	assert.False(t, IsCode(err, ErrCodeProtocol))
}

func TestWithContext(t *testing.T) {
	err := NewTransportError("connect failed", nil).
		WithContext("room", "room-1").
		WithContext("attempt", 2)
	assert.Equal(t, "room-1", err.Context["room"])
	assert.Equal(t, 2, err.Context["attempt"])
}
