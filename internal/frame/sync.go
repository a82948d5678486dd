// Package frame coordinates N in-flight frames.
//
// Each Slot moves through Idle -> Recording -> Submitted -> Complete -> Idle.
// A slot in Submitted carries the queue submission index that acts as its
// fence. Work deferred while a slot records (typically the release of a
// destroyed resource) runs only after that fence has been observed complete.
package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/rhi/types"
)

// State is the lifecycle state of a Slot.
type State uint8

const (
	Idle State = iota
	Recording
	Submitted
	Complete
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Recording:
		return "Recording"
	case Submitted:
		return "Submitted"
	case Complete:
		return "Complete"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Fence reports GPU progress as a monotonically increasing submission index.
type Fence interface {
	// Completed returns the highest submission index known to be finished.
	Completed() uint64

	// Wait blocks until index has completed, timeout elapses or ctx is done.
	// A timeout must be reported as an error wrapping types.ErrDeviceLost.
	Wait(ctx context.Context, index uint64, timeout time.Duration) error
}

// Slot is one rotating frame context.
type Slot struct {
	index   int
	state   State
	fence   uint64
	serial  uint64
	pending []func()
}

// Index returns the slot position in [0, N).
func (s *Slot) Index() int { return s.index }

// Serial returns the frame number this slot was last begun for, starting at 1.
func (s *Slot) Serial() uint64 { return s.serial }

// Synchronizer owns the slots and the deferred-release queues.
type Synchronizer struct {
	mu      sync.Mutex
	slots   []*Slot
	fence   Fence
	timeout time.Duration
	serial  uint64
	lost    error
}

// New creates a synchronizer with n slots. Fence waits that exceed timeout
// fail with types.ErrDeviceLost.
func New(n int, fence Fence, timeout time.Duration) (*Synchronizer, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: frames in flight must be at least 1, got %d", types.ErrInvalidDescriptor, n)
	}
	if fence == nil {
		return nil, errors.New("frame: nil fence")
	}
	slots := make([]*Slot, n)
	for i := range slots {
		slots[i] = &Slot{index: i}
	}
	return &Synchronizer{slots: slots, fence: fence, timeout: timeout}, nil
}

// Len returns N.
func (s *Synchronizer) Len() int { return len(s.slots) }

// Begin moves an Idle slot to Recording. If every slot is Submitted, Begin
// blocks until the oldest completes, ctx is done or the fence timeout
// expires. Only one slot may be Recording at a time.
func (s *Synchronizer) Begin(ctx context.Context) (*Slot, error) {
	for {
		s.mu.Lock()
		if s.lost != nil {
			s.mu.Unlock()
			return nil, s.lost
		}
		for _, sl := range s.slots {
			if sl.state == Recording {
				s.mu.Unlock()
				return nil, fmt.Errorf("%w: frame %d is still recording", types.ErrFrameState, sl.serial)
			}
		}
		released := s.reclaimLocked()

		if sl := s.pickIdleLocked(); sl != nil {
			s.serial++
			sl.state = Recording
			sl.serial = s.serial
			s.mu.Unlock()
			runAll(released)
			return sl, nil
		}

		oldest := s.oldestSubmittedLocked()
		fence := oldest.fence
		s.mu.Unlock()
		runAll(released)

		if err := s.fence.Wait(ctx, fence, s.timeout); err != nil {
			if errors.Is(err, types.ErrDeviceLost) {
				s.markLost(err)
			}
			return nil, err
		}
	}
}

// Submit records that sl was handed to the queue at submission index fence.
func (s *Synchronizer) Submit(sl *Slot, fence uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl.state != Recording {
		return fmt.Errorf("%w: submit of %s frame", types.ErrFrameState, sl.state)
	}
	sl.state = Submitted
	sl.fence = fence
	return nil
}

// Abandon returns a Recording slot to Idle without submitting it. Deferred
// work attached to it is moved to the newest in-flight slot, or run now if
// nothing is in flight.
func (s *Synchronizer) Abandon(sl *Slot) error {
	s.mu.Lock()
	if sl.state != Recording {
		s.mu.Unlock()
		return fmt.Errorf("%w: abandon of %s frame", types.ErrFrameState, sl.state)
	}
	pending := sl.pending
	sl.pending = nil
	sl.state = Idle

	var now []func()
	if target := s.newestSubmittedLocked(); target != nil {
		target.pending = append(target.pending, pending...)
	} else {
		now = pending
	}
	s.mu.Unlock()
	runAll(now)
	return nil
}

// Defer schedules release to run once the GPU can no longer reference the
// resource it frees. It attaches to the Recording slot if there is one, else
// to the newest Submitted slot; with nothing in flight it runs immediately.
func (s *Synchronizer) Defer(release func()) {
	s.mu.Lock()
	var target *Slot
	for _, sl := range s.slots {
		if sl.state == Recording {
			target = sl
			break
		}
	}
	if target == nil {
		target = s.newestSubmittedLocked()
	}
	if target == nil {
		s.mu.Unlock()
		release()
		return
	}
	target.pending = append(target.pending, release)
	s.mu.Unlock()
}

// Poll reclaims every Submitted slot whose fence has signaled.
func (s *Synchronizer) Poll() {
	s.mu.Lock()
	released := s.reclaimLocked()
	s.mu.Unlock()
	runAll(released)
}

// Flush runs every pending release regardless of fence state. Callers must
// have made the GPU idle first.
func (s *Synchronizer) Flush() {
	s.mu.Lock()
	var released []func()
	for _, sl := range s.slots {
		released = append(released, sl.pending...)
		sl.pending = nil
		if sl.state != Recording {
			sl.state = Idle
		}
	}
	s.mu.Unlock()
	runAll(released)
}

// Pending returns the number of deferred releases not yet run.
func (s *Synchronizer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.slots {
		n += len(sl.pending)
	}
	return n
}

// InFlight returns the number of Submitted slots.
func (s *Synchronizer) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.slots {
		if sl.state == Submitted {
			n++
		}
	}
	return n
}

// States returns a snapshot of every slot state, in slot order.
func (s *Synchronizer) States() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, len(s.slots))
	for i, sl := range s.slots {
		out[i] = sl.state
	}
	return out
}

// Lost returns the error that marked the device lost, or nil.
func (s *Synchronizer) Lost() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// MarkLost poisons the synchronizer; every later Begin returns err.
func (s *Synchronizer) MarkLost(err error) { s.markLost(err) }

func (s *Synchronizer) markLost(err error) {
	s.mu.Lock()
	if s.lost == nil {
		s.lost = err
	}
	s.mu.Unlock()
}

// reclaimLocked moves signaled slots through Complete to Idle and returns
// their deferred releases for the caller to run outside the lock.
func (s *Synchronizer) reclaimLocked() []func() {
	done := s.fence.Completed()
	var released []func()
	for _, sl := range s.slots {
		if sl.state != Submitted || sl.fence > done {
			continue
		}
		sl.state = Complete
		released = append(released, sl.pending...)
		sl.pending = nil
		sl.state = Idle
	}
	return released
}

// pickIdleLocked returns the Idle slot that was used longest ago.
func (s *Synchronizer) pickIdleLocked() *Slot {
	var best *Slot
	for _, sl := range s.slots {
		if sl.state != Idle {
			continue
		}
		if best == nil || sl.serial < best.serial {
			best = sl
		}
	}
	return best
}

func (s *Synchronizer) oldestSubmittedLocked() *Slot {
	var best *Slot
	for _, sl := range s.slots {
		if sl.state == Submitted && (best == nil || sl.fence < best.fence) {
			best = sl
		}
	}
	return best
}

func (s *Synchronizer) newestSubmittedLocked() *Slot {
	var best *Slot
	for _, sl := range s.slots {
		if sl.state == Submitted && (best == nil || sl.fence > best.fence) {
			best = sl
		}
	}
	return best
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
