package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap("download_error", "failed to download model", cause)

	require.EqualError(t, err, "failed to download model: disk full")
	require.ErrorIs(t, err, cause)
	require.True(t, IsCode(err, "download_error"))
}

func TestCodeOfWrappedChain(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap("scoring_error", "boom", nil))
	require.Equal(t, "scoring_error", CodeOf(err))
	require.Equal(t, "", CodeOf(errors.New("plain")))
	require.False(t, IsCode(nil, "scoring_error"))
}
