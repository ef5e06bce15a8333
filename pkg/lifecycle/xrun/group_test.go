package xrun

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xreg/pkg/observability/xlog"
)

func TestGroup_CancelNilReturnsNil(t *testing.T) {
	g, _ := NewGroup(context.Background(), WithName("test"), WithLogger(xlog.Discard()))
	g.GoWithName("blocker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	g.Cancel(nil)
	assert.NoError(t, g.Wait())
}

func TestGroup_CancelCause(t *testing.T) {
	cause := errors.New("shutdown")
	g, _ := NewGroup(context.Background())
	g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	g.Cancel(cause)
	assert.ErrorIs(t, g.Wait(), cause)
}

func TestGroup_TaskErrorCancelsOthers(t *testing.T) {
	boom := errors.New("boom")
	g, ctx := NewGroup(context.Background())
	g.GoWithName("failing", func(context.Context) error { return boom })
	g.GoWithName("waiting", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	assert.ErrorIs(t, g.Wait(), boom)
	assert.Error(t, ctx.Err())
	assert.Same(t, ctx, g.Context())
}

func TestGroup_NilFunc(t *testing.T) {
	g, _ := NewGroup(nil) //nolint:staticcheck // nil ctx 归一化
	g.Go(nil)
	assert.ErrorIs(t, g.Wait(), ErrNilFunc)

	g, _ = NewGroup(context.Background())
	g.GoWithName("nil", nil)
	assert.ErrorIs(t, g.Wait(), ErrNilFunc)
}

func TestTicker(t *testing.T) {
	var n atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Ticker(5*time.Millisecond, true, func(context.Context) error {
			if n.Add(1) >= 3 {
				cancel()
			}
			return nil
		})(ctx)
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not stop")
	}
	assert.GreaterOrEqual(t, n.Load(), int32(3))
}

func TestTicker_Invalid(t *testing.T) {
	require.ErrorIs(t, Ticker(0, false, func(context.Context) error { return nil })(context.Background()), ErrInvalidInterval)
	require.ErrorIs(t, Ticker(time.Second, false, nil)(context.Background()), ErrNilFunc)

	stop := errors.New("stop")
	err := Ticker(time.Millisecond, true, func(context.Context) error { return stop })(context.Background())
	assert.ErrorIs(t, err, stop)
}
