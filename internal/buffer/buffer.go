// Package buffer provides the fixed-capacity ring of encoded strands sitting
// between request ingestion and the commit workers.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Policy selects the on-full behavior, fixed at construction.
type Policy int

const (
	// Backpressure suspends the producer until a slot frees or the
	// configured push timeout elapses.
	Backpressure Policy = iota
	// OverwriteOldest evicts the oldest filled slot so the push always
	// succeeds, trading durability for availability under burst load.
	OverwriteOldest
)

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "backpressure":
		return Backpressure, nil
	case "overwrite_oldest":
		return OverwriteOldest, nil
	default:
		return 0, fmt.Errorf("unknown buffer policy %q", s)
	}
}

type slotState uint8

const (
	slotEmpty slotState = iota
	slotFilled
	slotDraining
)

type slot struct {
	state  slotState
	seq    uint64
	strand []byte
}

// Item is one dequeued strand with its push-time sequence number.
type Item struct {
	Seq    uint64
	Strand []byte
}

var (
	ErrTimeout = errors.New("buffer: push timed out while full")
	ErrClosed  = errors.New("buffer: closed")
)

type Config struct {
	Capacity int
	Policy   Policy
	// PushTimeout bounds a Backpressure push; zero waits indefinitely.
	PushTimeout time.Duration
	// OnEvict observes sequence numbers dropped under OverwriteOldest.
	// Called with the ring lock held; it must not call back into the buffer.
	OnEvict func(seq uint64)
}

// Buffer is a thread-safe circular store of strands. All cursor and slot
// state mutations happen under one mutex; encode, decode and commit work
// stay outside it.
type Buffer struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	cfg     Config
	slots   []slot
	head    int // next pop index
	tail    int // next push index
	size    int
	nextSeq uint64
	dropped uint64
	closed  bool
}

func New(cfg Config) (*Buffer, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("buffer: capacity must be positive, got %d", cfg.Capacity)
	}
	b := &Buffer{cfg: cfg, slots: make([]slot, cfg.Capacity)}
	b.notFull = sync.NewCond(&b.mu)
	b.notEmpty = sync.NewCond(&b.mu)
	return b, nil
}

// Push stores one strand and returns its assigned sequence number. onAssign,
// if non-nil, runs under the ring lock right after sequence assignment, so a
// consumer cannot observe the slot before onAssign returns.
func (b *Buffer) Push(strand []byte, onAssign func(seq uint64)) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}

	if b.size == len(b.slots) {
		switch b.cfg.Policy {
		case OverwriteOldest:
			b.evictOldestLocked()
		default:
			if err := b.waitNotFullLocked(); err != nil {
				return 0, err
			}
			// A slot freed by a post-Close pop must not admit new work.
			if b.closed {
				return 0, ErrClosed
			}
		}
	}

	b.nextSeq++
	seq := b.nextSeq
	b.slots[b.tail] = slot{state: slotFilled, seq: seq, strand: strand}
	b.tail = (b.tail + 1) % len(b.slots)
	b.size++
	if onAssign != nil {
		onAssign(seq)
	}
	b.notEmpty.Signal()
	return seq, nil
}

func (b *Buffer) evictOldestLocked() {
	s := &b.slots[b.head]
	evicted := s.seq
	s.state = slotEmpty
	s.strand = nil
	b.head = (b.head + 1) % len(b.slots)
	b.size--
	b.dropped++
	if b.cfg.OnEvict != nil {
		b.cfg.OnEvict(evicted)
	}
}

func (b *Buffer) waitNotFullLocked() error {
	var deadline time.Time
	timed := b.cfg.PushTimeout > 0
	if timed {
		deadline = time.Now().Add(b.cfg.PushTimeout)
	}
	for b.size == len(b.slots) {
		if b.closed {
			return ErrClosed
		}
		if !timed {
			b.notFull.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		// The callback takes the lock, so it cannot fire between the
		// deadline check and the wait registration.
		wake := time.AfterFunc(remaining, func() {
			b.mu.Lock()
			b.notFull.Broadcast()
			b.mu.Unlock()
		})
		b.notFull.Wait()
		wake.Stop()
	}
	return nil
}

// Pop removes the oldest filled slot without blocking. The second return
// value is false when no filled slot exists; that is a signal, not an error.
func (b *Buffer) Pop() (Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.popLocked()
}

func (b *Buffer) popLocked() (Item, bool) {
	if b.size == 0 {
		return Item{}, false
	}
	s := &b.slots[b.head]
	// Draining is transient: the lock keeps the slot unavailable to a
	// racing producer until it is fully cleared.
	s.state = slotDraining
	item := Item{Seq: s.seq, Strand: s.strand}
	s.state = slotEmpty
	s.strand = nil
	b.head = (b.head + 1) % len(b.slots)
	b.size--
	b.notFull.Signal()
	return item, true
}

// PopWait blocks until a filled slot is available, the context is cancelled,
// or the buffer is closed and fully drained. Remaining filled slots stay
// poppable after Close so consumers can drain on shutdown.
func (b *Buffer) PopWait(ctx context.Context) (Item, error) {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.notEmpty.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if item, ok := b.popLocked(); ok {
			return item, nil
		}
		if err := ctx.Err(); err != nil {
			return Item{}, err
		}
		if b.closed {
			return Item{}, ErrClosed
		}
		b.notEmpty.Wait()
	}
}

// Close rejects further pushes and wakes every blocked producer and consumer.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.notFull.Broadcast()
	b.notEmpty.Broadcast()
	b.mu.Unlock()
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer) Capacity() int { return len(b.slots) }

// Dropped returns the count of events evicted under OverwriteOldest.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
