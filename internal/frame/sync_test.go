package frame

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/rhi/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFence lets tests decide when submissions complete.
type fakeFence struct {
	mu        sync.Mutex
	cond      *sync.Cond
	completed uint64
	next      uint64
}

func newFakeFence() *fakeFence {
	f := &fakeFence{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *fakeFence) submit() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return f.next
}

func (f *fakeFence) signal(index uint64) {
	f.mu.Lock()
	if index > f.completed {
		f.completed = index
	}
	f.mu.Unlock()
	f.cond.Broadcast()
}

func (f *fakeFence) Completed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

func (f *fakeFence) Wait(ctx context.Context, index uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if f.Completed() >= index {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: fence %d timed out", types.ErrDeviceLost, index)
		}
		time.Sleep(time.Millisecond)
	}
}

func beginSubmit(t *testing.T, s *Synchronizer, f *fakeFence) *Slot {
	t.Helper()
	sl, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Submit(sl, f.submit()))
	return sl
}

func TestNewRejectsZeroFrames(t *testing.T) {
	_, err := New(0, newFakeFence(), time.Second)
	assert.ErrorIs(t, err, types.ErrInvalidDescriptor)
	_, err = New(2, nil, time.Second)
	assert.Error(t, err)
}

func TestStateMachine(t *testing.T) {
	f := newFakeFence()
	s, err := New(2, f, time.Second)
	require.NoError(t, err)

	sl, err := s.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []State{Recording, Idle}, s.States())
	assert.Equal(t, uint64(1), sl.Serial())

	_, err = s.Begin(context.Background())
	assert.ErrorIs(t, err, types.ErrFrameState, "second recording frame")

	require.NoError(t, s.Submit(sl, f.submit()))
	assert.Equal(t, []State{Submitted, Idle}, s.States())
	assert.ErrorIs(t, s.Submit(sl, 9), types.ErrFrameState)

	f.signal(1)
	s.Poll()
	assert.Equal(t, []State{Idle, Idle}, s.States())
}

func TestBackpressureBlocksAtN(t *testing.T) {
	f := newFakeFence()
	s, err := New(2, f, 5*time.Second)
	require.NoError(t, err)

	beginSubmit(t, s, f)
	beginSubmit(t, s, f)
	assert.Equal(t, 2, s.InFlight())

	got := make(chan *Slot, 1)
	go func() {
		sl, err := s.Begin(context.Background())
		if err != nil {
			t.Errorf("begin: %v", err)
			close(got)
			return
		}
		got <- sl
	}()

	select {
	case <-got:
		t.Fatal("third Begin must block while both frames are in flight")
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, 2, s.InFlight())

	f.signal(1)
	select {
	case sl := <-got:
		require.NotNil(t, sl)
		assert.Equal(t, 0, sl.Index(), "oldest slot is recycled")
		assert.LessOrEqual(t, s.InFlight(), 2)
	case <-time.After(2 * time.Second):
		t.Fatal("Begin did not unblock after fence signaled")
	}
}

func TestTimeoutMarksDeviceLost(t *testing.T) {
	f := newFakeFence()
	s, err := New(1, f, 20*time.Millisecond)
	require.NoError(t, err)

	beginSubmit(t, s, f)
	_, err = s.Begin(context.Background())
	require.ErrorIs(t, err, types.ErrDeviceLost)
	require.ErrorIs(t, s.Lost(), types.ErrDeviceLost)

	f.signal(1)
	_, err = s.Begin(context.Background())
	assert.ErrorIs(t, err, types.ErrDeviceLost, "lost is sticky")
}

func TestContextCancelIsNotDeviceLost(t *testing.T) {
	f := newFakeFence()
	s, err := New(1, f, time.Minute)
	require.NoError(t, err)
	beginSubmit(t, s, f)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.Begin(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, s.Lost())
}

func TestDeferredReleaseWaitsForFence(t *testing.T) {
	f := newFakeFence()
	s, err := New(2, f, time.Second)
	require.NoError(t, err)

	released := false
	sl, err := s.Begin(context.Background())
	require.NoError(t, err)
	s.Defer(func() { released = true })
	require.NoError(t, s.Submit(sl, f.submit()))

	s.Poll()
	assert.False(t, released, "released before fence")
	assert.Equal(t, 1, s.Pending())

	// The next frame can begin without reclaiming frame 1.
	sl2, err := s.Begin(context.Background())
	require.NoError(t, err)
	assert.False(t, released)
	require.NoError(t, s.Submit(sl2, f.submit()))

	f.signal(1)
	s.Poll()
	assert.True(t, released)
	assert.Equal(t, 0, s.Pending())
}

func TestDeferBetweenFramesAttachesToNewest(t *testing.T) {
	f := newFakeFence()
	s, err := New(3, f, time.Second)
	require.NoError(t, err)
	beginSubmit(t, s, f)
	beginSubmit(t, s, f)

	released := false
	s.Defer(func() { released = true })

	f.signal(1)
	s.Poll()
	assert.False(t, released, "must wait for the newest in-flight frame")

	f.signal(2)
	s.Poll()
	assert.True(t, released)
}

func TestDeferWithNothingInFlightRunsNow(t *testing.T) {
	s, err := New(2, newFakeFence(), time.Second)
	require.NoError(t, err)
	ran := false
	s.Defer(func() { ran = true })
	assert.True(t, ran)
}

func TestAbandonMovesPending(t *testing.T) {
	f := newFakeFence()
	s, err := New(2, f, time.Second)
	require.NoError(t, err)
	beginSubmit(t, s, f)

	sl, err := s.Begin(context.Background())
	require.NoError(t, err)
	ran := false
	s.Defer(func() { ran = true })
	require.NoError(t, s.Abandon(sl))
	assert.False(t, ran)
	assert.ErrorIs(t, s.Abandon(sl), types.ErrFrameState)

	f.signal(1)
	s.Poll()
	assert.True(t, ran)
}

func TestFlushRunsEverything(t *testing.T) {
	f := newFakeFence()
	s, err := New(2, f, time.Second)
	require.NoError(t, err)
	sl, err := s.Begin(context.Background())
	require.NoError(t, err)
	count := 0
	s.Defer(func() { count++ })
	s.Defer(func() { count++ })
	require.NoError(t, s.Submit(sl, f.submit()))

	s.Flush()
	assert.Equal(t, 2, count)
	assert.Equal(t, []State{Idle, Idle}, s.States())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Submitted", Submitted.String())
	assert.Equal(t, "State(9)", State(9).String())
}
