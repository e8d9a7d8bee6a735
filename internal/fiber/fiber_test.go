package fiber

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Execute_RunsToCompletionWithoutYielding(t *testing.T) {
	r := Execute(func(y Yielder) (any, error) {
		return 42, nil
	})

	require.True(t, r.HasResult())
	v, err := r.Result()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func Test_Execute_SuspendsOnYield(t *testing.T) {
	steps := 0

	r := Execute(func(y Yielder) (any, error) {
		steps++
		y.Yield()
		steps++
		y.Yield()
		steps++
		return steps, nil
	})

	assert.False(t, r.HasResult())
	assert.Equal(t, 1, steps)

	r.Resume()
	assert.False(t, r.HasResult())
	assert.Equal(t, 2, steps)

	r.Resume()
	require.True(t, r.HasResult())
	v, err := r.Result()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func Test_Execute_PropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	r := Execute(func(y Yielder) (any, error) {
		return nil, wantErr
	})

	require.True(t, r.HasResult())
	_, err := r.Result()
	assert.ErrorIs(t, err, wantErr)
}

func Test_Resume_AfterCompletion_IsNoOp(t *testing.T) {
	r := Execute(func(y Yielder) (any, error) {
		return "done", nil
	})
	require.True(t, r.HasResult())

	r.Resume()
	v, err := r.Result()
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func Test_Drop_FinishedFiber_RecyclesWithoutPanicking(t *testing.T) {
	r := Execute(func(y Yielder) (any, error) {
		return nil, nil
	})
	require.True(t, r.HasResult())
	r.Drop(nil)
}

func Test_Drop_SuspendedFiber_SetsCancelRequested(t *testing.T) {
	r := Execute(func(y Yielder) (any, error) {
		y.Yield()
		return nil, nil
	})
	require.False(t, r.HasResult())

	warned := false
	r.Drop(func(string) { warned = true })

	assert.True(t, warned)
	assert.True(t, r.CancelRequested())
}

func Test_Drop_SuspendedFiber_UnwindsAndRecyclesFiber(t *testing.T) {
	unwound := false
	r := Execute(func(y Yielder) (any, error) {
		if err := y.Yield(); err != nil {
			unwound = true
			return nil, err
		}
		return nil, nil
	})
	require.False(t, r.HasResult())

	r.Drop(nil)

	assert.True(t, r.HasResult())
	assert.True(t, unwound)
	assert.True(t, r.CancelRequested())
}

func Test_PrimeCache_IsIdempotentAndHarmless(t *testing.T) {
	PrimeCache(4)
	PrimeCache(4)
	r := Execute(func(y Yielder) (any, error) { return 1, nil })
	v, err := r.Result()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}
