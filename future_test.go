package mysqlnio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureResolveThenGet(t *testing.T) {
	f := NewFuture[int]()
	assert.False(t, f.Done())

	f.resolve(42, nil)
	assert.True(t, f.Done())

	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFutureSecondResolveIsNoop(t *testing.T) {
	f := NewFuture[int]()
	f.resolve(1, nil)
	f.resolve(2, assert.AnError)

	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFutureGetBlocksUntilResolved(t *testing.T) {
	f := NewFuture[string]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.resolve("done", nil)
	}()

	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestFutureGetRespectsContextCancellation(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
