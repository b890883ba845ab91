package payable

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorWrapping(t *testing.T) {
	// Test basic error creation
	err := NewError(ErrorTypeCheckpointNotFound, "checkpoint %s not found", "ckpt_1")
	require.Equal(t, "checkpoint_not_found: checkpoint ckpt_1 not found", err.Error())
	require.Nil(t, err.Unwrap())

	// Test error wrapping
	originalErr := errors.New("disk read failed")
	wrappedErr := &Error{
		Type:    ErrorTypeStageFailed,
		Cause:   originalErr.Error(),
		Wrapped: originalErr,
	}

	require.Equal(t, "stage_failed: disk read failed", wrappedErr.Error())
	require.Equal(t, originalErr, wrappedErr.Unwrap())

	// Test errors.Is
	require.True(t, errors.Is(wrappedErr, originalErr))

	// Test errors.As
	var asErr *Error
	require.True(t, errors.As(wrappedErr, &asErr))
	require.Equal(t, ErrorTypeStageFailed, asErr.Type)
}

func TestHasErrorType(t *testing.T) {
	err := NewError(ErrorTypeAlreadyResolved, "checkpoint ckpt_1 already resolved")
	require.True(t, HasErrorType(err, ErrorTypeAlreadyResolved))
	require.False(t, HasErrorType(err, ErrorTypeCheckpointNotFound))

	// Matching survives fmt wrapping.
	wrapped := fmt.Errorf("resolving decision: %w", err)
	require.True(t, HasErrorType(wrapped, ErrorTypeAlreadyResolved))

	require.False(t, HasErrorType(errors.New("plain"), ErrorTypeAlreadyResolved))
	require.False(t, HasErrorType(nil, ErrorTypeAlreadyResolved))
}
