package adapter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsTransientClassifiesWrappedErrors(t *testing.T) {
	transient := NewTransientError("slack", "conversations.history", 503, "server error", errors.New("boom"))
	wrapped := fmt.Errorf("poll monitor: %w", transient)
	require.True(t, IsTransient(wrapped))

	permanent := NewPermanentError("gmail", "/messages", 400, "bad request", nil)
	require.False(t, IsTransient(permanent))

	require.False(t, IsTransient(errors.New("plain error")))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := NewConnectionError("outlook", "mailFolders", "unauthorized", errors.New("token expired"))
	require.Contains(t, err.Error(), "outlook")
	require.Contains(t, err.Error(), "token expired")
	require.Equal(t, ErrConnectionUnavailable, err.Kind)
	require.True(t, errors.Is(err, err)) // Unwrap chain doesn't loop
}
