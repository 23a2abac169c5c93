package latch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch_OpensAtZero(t *testing.T) {
	l := New(3)
	assert.Equal(t, 3, l.Count())

	l.CountDown()
	l.CountDown()
	select {
	case <-l.Done():
		t.Fatal("latch opened early")
	default:
	}

	l.CountDown()
	assert.Equal(t, 0, l.Count())
	require.NoError(t, l.Wait(context.Background()))
}

func TestLatch_ExtraCountDownIgnored(t *testing.T) {
	l := New(1)
	l.CountDown()
	l.CountDown()
	assert.Equal(t, 0, l.Count())
}

func TestLatch_ZeroIsOpen(t *testing.T) {
	l := New(0)
	require.NoError(t, l.Wait(context.Background()))
}

func TestLatch_WaitRespectsContext(t *testing.T) {
	l := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLatch_ReleasesAllWaiters(t *testing.T) {
	const n = 8
	l := New(n)

	var released sync.WaitGroup
	for i := 0; i < n; i++ {
		released.Add(1)
		go func() {
			defer released.Done()
			l.CountDown()
			_ = l.Wait(context.Background())
		}()
	}

	done := make(chan struct{})
	go func() {
		released.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters were not released")
	}
}
