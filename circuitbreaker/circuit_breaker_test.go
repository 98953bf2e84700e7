package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/afex/hystrix-go/hystrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const success = "0x2105"

// unique name to avoid conflicts with go tests `-count` option
func circuitName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestCircuitBreaker_ExecuteSuccessSingle(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Timeout:                1000,
		MaxConcurrentRequests:  100,
		RequestVolumeThreshold: 10,
		SleepWindow:            10,
		ErrorPercentThreshold:  10,
	})

	cmd := NewCommand(context.TODO(), []*Functor{
		NewFunctor(func() ([]any, error) {
			return []any{success}, nil
		}, circuitName("SuccessSingle"))},
	)

	result := cb.Execute(cmd)
	require.NoError(t, result.Error())
	require.Equal(t, success, result.Result()[0].(string))
	require.False(t, result.Cancelled())
	require.Len(t, result.FunctorCallStatuses(), 1)
}

func TestCircuitBreaker_ExecuteMultipleFallbacksFail(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Timeout:                10,
		MaxConcurrentRequests:  100,
		RequestVolumeThreshold: 10,
		SleepWindow:            10,
		ErrorPercentThreshold:  10,
	})

	name := circuitName("ExecuteMultipleFallbacksFail")
	errPublicFailed := errors.New("public endpoint failed")
	errFallbackFailed := errors.New("fallback endpoint failed")
	cmd := NewCommand(context.TODO(), []*Functor{
		NewFunctor(func() ([]any, error) {
			time.Sleep(100 * time.Millisecond) // will cause hystrix: timeout
			return []any{success}, nil
		}, name+"premium"),
		NewFunctor(func() ([]any, error) {
			return nil, errPublicFailed
		}, name+"public"),
		NewFunctor(func() ([]any, error) {
			return nil, errFallbackFailed
		}, name+"fallback"),
	})

	result := cb.Execute(cmd)
	require.Error(t, result.Error())
	assert.True(t, errors.Is(result.Error(), hystrix.ErrTimeout))
	assert.True(t, errors.Is(result.Error(), errPublicFailed))
	assert.True(t, errors.Is(result.Error(), errFallbackFailed))
	assert.Len(t, result.FunctorCallStatuses(), 3)
}

func TestCircuitBreaker_SwitchToWorkingEndpointOnVolumeThresholdReached(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		RequestVolumeThreshold: 10,
	})

	name := circuitName("SwitchToWorkingEndpoint")

	firstCalled := 0
	secondCalled := 0
	// These are executed sequentially
	for i := 0; i < 20; i++ {
		cmd := NewCommand(context.TODO(), []*Functor{
			NewFunctor(func() ([]any, error) {
				firstCalled++
				return nil, errors.New("endpoint 1 failed")
			}, name+"1"),
			NewFunctor(func() ([]any, error) {
				secondCalled++
				return []any{success}, nil
			}, name+"2"),
		})

		result := cb.Execute(cmd)
		require.NoError(t, result.Error())
		require.Equal(t, success, result.Result()[0].(string))
	}

	assert.Equal(t, 10, firstCalled)
	assert.Equal(t, 20, secondCalled)
	assert.True(t, IsCircuitOpen(name+"1"))
	assert.False(t, IsCircuitOpen(name+"2"))
}

func TestCircuitBreaker_CommandCancel(t *testing.T) {
	cb := NewCircuitBreaker(Config{})
	name := circuitName("CommandCancel")

	firstCalled := 0
	secondCalled := 0
	expectedErr := errors.New("execution reverted")

	var ctx context.Context
	cmd := NewCommand(ctx, nil)
	cmd.Add(NewFunctor(func() ([]any, error) {
		firstCalled++
		cmd.Cancel()
		return nil, expectedErr
	}, name+"1"))
	cmd.Add(NewFunctor(func() ([]any, error) {
		secondCalled++
		return nil, errors.New("endpoint 2 failed")
	}, name+"2"))

	result := cb.Execute(cmd)
	require.True(t, errors.Is(result.Error(), expectedErr))
	require.True(t, result.Cancelled())

	assert.Equal(t, 1, firstCalled)
	assert.Equal(t, 0, secondCalled)
}

func TestCircuitBreaker_CancelledBeforeExecute(t *testing.T) {
	cb := NewCircuitBreaker(Config{Timeout: 1000})

	cmd := NewCommand(context.Background(), []*Functor{
		NewFunctor(func() ([]any, error) {
			return []any{"should not be returned"}, nil
		}, circuitName("CancelledBeforeExecute")),
	})
	cmd.Cancel()

	result := cb.Execute(cmd)
	assert.True(t, result.Cancelled())
	require.Nil(t, result.Error())
	require.Empty(t, result.Result())
	require.Empty(t, result.FunctorCallStatuses())
}

func TestCircuitBreaker_EmptyOrNilCommand(t *testing.T) {
	cb := NewCircuitBreaker(Config{})
	cmd := NewCommand(context.TODO(), nil)
	result := cb.Execute(cmd)
	require.Error(t, result.Error())
	result = cb.Execute(nil)
	require.Error(t, result.Error())
}

func TestCircuitBreaker_CircuitExistsAndClosed(t *testing.T) {
	nonExisting := circuitName("nonexistent")
	require.False(t, CircuitExists(nonExisting))
	require.False(t, IsCircuitOpen(nonExisting))

	cb := NewCircuitBreaker(Config{})
	existing := circuitName("existing")
	cmd := NewCommand(context.TODO(), []*Functor{
		NewFunctor(func() ([]any, error) {
			return nil, nil
		}, existing),
	})
	_ = cb.Execute(cmd)
	require.True(t, CircuitExists(existing))
	require.False(t, IsCircuitOpen(existing))
}

func TestCircuitBreaker_LastFunctorRunsWithOpenCircuit(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		RequestVolumeThreshold: 1, // 1 failed request is enough to trip the circuit
		SleepWindow:            50000,
		ErrorPercentThreshold:  1, // Trip on first error
	})
	name := circuitName("LastFunctor")
	expectedErr := errors.New("endpoint failed")

	for !IsCircuitOpen(name) {
		cmd := NewCommand(context.Background(), []*Functor{
			NewFunctor(func() ([]any, error) {
				return nil, expectedErr
			}, name),
			NewFunctor(func() ([]any, error) {
				return nil, errors.New("other endpoint failed")
			}, name+"other"),
		})
		require.Error(t, cb.Execute(cmd).Error())
	}

	called := 0
	cmd := NewCommand(context.Background(), []*Functor{
		NewFunctor(func() ([]any, error) {
			called++
			return []any{success}, nil
		}, name),
	})
	result := cb.Execute(cmd)
	require.NoError(t, result.Error())
	assert.Equal(t, 1, called)
}

func TestCircuitBreaker_Gate(t *testing.T) {
	cb := NewCircuitBreaker(Config{})
	name := circuitName("Gate")

	firstCalled := 0
	cmd := NewCommand(context.Background(), []*Functor{
		NewFunctor(func() ([]any, error) {
			firstCalled++
			return []any{"first"}, nil
		}, name+"1").WithGate(func() bool { return false }),
		NewFunctor(func() ([]any, error) {
			return []any{"second"}, nil
		}, name+"2").WithGate(func() bool { return true }),
	})

	result := cb.Execute(cmd)
	require.NoError(t, result.Error())
	require.Equal(t, "second", result.Result()[0])
	require.Equal(t, 1, result.Skipped())
	require.Equal(t, 0, firstCalled)

	statuses := result.FunctorCallStatuses()
	require.Len(t, statuses, 1)
	require.Equal(t, name+"2", statuses[0].Name)
	require.Nil(t, statuses[0].Err)
}

func TestCircuitBreaker_GateIsLazy(t *testing.T) {
	cb := NewCircuitBreaker(Config{})
	name := circuitName("GateIsLazy")

	gateChecked := false
	cmd := NewCommand(context.Background(), []*Functor{
		NewFunctor(func() ([]any, error) {
			return []any{success}, nil
		}, name+"1"),
		NewFunctor(func() ([]any, error) {
			return nil, nil
		}, name+"2").WithGate(func() bool {
			gateChecked = true
			return true
		}),
	})

	require.NoError(t, cb.Execute(cmd).Error())
	require.False(t, gateChecked)
}

func TestCircuitBreaker_AllGated(t *testing.T) {
	cb := NewCircuitBreaker(Config{})
	name := circuitName("AllGated")

	cmd := NewCommand(context.Background(), []*Functor{
		NewFunctor(func() ([]any, error) { return nil, nil }, name+"1").WithGate(func() bool { return false }),
		NewFunctor(func() ([]any, error) { return nil, nil }, name+"2").WithGate(func() bool { return false }),
	})

	result := cb.Execute(cmd)
	require.NoError(t, result.Error())
	require.Equal(t, 2, result.Skipped())
	require.Empty(t, result.FunctorCallStatuses())
}

func TestCircuitBreaker_FunctorConfig(t *testing.T) {
	cb := NewCircuitBreaker(Config{Timeout: 10})
	name := circuitName("FunctorConfig")

	cmd := NewCommand(context.Background(), []*Functor{
		NewFunctor(func() ([]any, error) {
			time.Sleep(50 * time.Millisecond)
			return []any{success}, nil
		}, name).WithConfig(Config{Timeout: 1000}),
	})

	result := cb.Execute(cmd)
	require.NoError(t, result.Error())
	require.Equal(t, int64(1000), hystrix.GetCircuitSettings()[name].Timeout.Milliseconds())
}
