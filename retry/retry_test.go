package retry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDo_NonTransientEndsLoop(t *testing.T) {
	calls := 0
	res, exhausted, err := Do(3,
		func(v int) bool { return false },
		func(n int) (int, error) {
			calls++
			return n * 10, nil
		})
	require.NoError(t, err)
	require.False(t, exhausted)
	require.Equal(t, 1, calls)
	require.Equal(t, 10, res)
}

func TestDo_TransientExhaustsBudget(t *testing.T) {
	calls := 0
	res, exhausted, err := Do(3,
		func(v int) bool { return true },
		func(n int) (int, error) {
			calls++
			return n, nil
		})
	require.NoError(t, err)
	require.True(t, exhausted)
	require.Equal(t, 3, calls)
	// Last attempt's result is returned even when exhausted.
	require.Equal(t, 3, res)
}

func TestDo_TransientThenSuccess(t *testing.T) {
	res, exhausted, err := Do(3,
		func(v int) bool { return v < 2 },
		func(n int) (int, error) { return n, nil })
	require.NoError(t, err)
	require.False(t, exhausted)
	require.Equal(t, 2, res)
}

func TestDo_AttemptErrorEndsLoop(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, exhausted, err := Do(3,
		func(v int) bool { return true },
		func(n int) (int, error) {
			calls++
			return 0, boom
		})
	require.ErrorIs(t, err, boom)
	require.False(t, exhausted)
	require.Equal(t, 1, calls)
}
