package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"plain error defaults to permanent", base, CategoryPermanent},
		{"transient", Transient(base, "sending"), CategoryTransient},
		{"permanent", Permanent(base, "parsing"), CategoryPermanent},
		{"conflict", Conflict(base, "transitioning"), CategoryConflict},
		{"not found", NotFound(base, "looking up"), CategoryNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Categorize(tc.err))
		})
	}
}

func TestCategorizeWrapped(t *testing.T) {
	inner := Transient(errors.New("administrator unreachable"), "sending request")
	wrapped := errors.Join(errors.New("outer"), inner)
	assert.Equal(t, CategoryTransient, Categorize(wrapped))
	assert.True(t, IsRetryable(wrapped))
}

func TestCategoryPredicates(t *testing.T) {
	assert.True(t, IsRetryable(Transient(errors.New("x"), "")))
	assert.False(t, IsRetryable(Permanent(errors.New("x"), "")))
	assert.True(t, IsConflict(Conflict(errors.New("x"), "")))
	assert.True(t, IsNotFound(NotFound(errors.New("x"), "")))
	assert.False(t, IsNotFound(Transient(errors.New("x"), "")))
}

func TestCategorizedErrorMessage(t *testing.T) {
	err := &CategorizedError{
		Err:      errors.New("connection refused"),
		Category: CategoryTransient,
		Retries:  2,
		Context:  "send to administrator",
	}
	msg := err.Error()
	assert.Contains(t, msg, "send to administrator")
	assert.Contains(t, msg, "connection refused")
	assert.Contains(t, msg, "transient")
	assert.Contains(t, msg, "2")

	underlying := errors.New("inner")
	assert.ErrorIs(t, Transient(underlying, ""), underlying)
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	res := WithRetry(RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		BackoffFactor:  2.0,
	}, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", Transient(errors.New("not yet"), "trying")
		}
		return "done", nil
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "done", res.Value)
	assert.Equal(t, 3, res.Attempts)
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	res := WithRetry(DefaultRetry, func() (int, error) {
		attempts++
		return 0, Permanent(errors.New("bad request"), "validating")
	})

	require.Error(t, res.Err)
	assert.Equal(t, 1, attempts)

	var catErr *CategorizedError
	require.ErrorAs(t, res.Err, &catErr)
	assert.Equal(t, CategoryPermanent, catErr.Category)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	res := WithRetry(RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}, func() (int, error) {
		return 0, Transient(errors.New("still down"), "sending")
	})

	require.Error(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.Contains(t, res.Err.Error(), "max retries exceeded")
}

func TestWithRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := WithRetryContext(ctx, DefaultRetry, func(context.Context) (int, error) {
		t.Fatal("must not run with cancelled context")
		return 0, nil
	})

	require.Error(t, res.Err)
	assert.Equal(t, 0, res.Attempts)
}

func TestWithRetryCustomRetryableFunc(t *testing.T) {
	sentinel := errors.New("retry me")
	attempts := 0
	res := WithRetry(RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1.0,
		RetryableFunc:  func(err error) bool { return errors.Is(err, sentinel) },
	}, func() (int, error) {
		attempts++
		return 0, sentinel
	})

	require.Error(t, res.Err)
	assert.Equal(t, 2, attempts)
}

func TestNoRetry(t *testing.T) {
	attempts := 0
	res := WithRetry(NoRetry, func() (int, error) {
		attempts++
		return 0, Transient(errors.New("down"), "")
	})
	require.Error(t, res.Err)
	assert.Equal(t, 1, attempts)
}

func TestCalculateBackoffJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := calculateBackoff(base, 0.1)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
	assert.Equal(t, base, calculateBackoff(base, 0))
}
