// Package pipeline owns the buffer and the commit worker pool, and exposes
// Submit as the single entry point for the request-handling layer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"strandpipe/internal/buffer"
	"strandpipe/internal/codec"
	"strandpipe/internal/domain"
	"strandpipe/internal/store"
)

// ShutdownMode controls what happens to filled slots still in the buffer
// when the coordinator stops.
type ShutdownMode int

const (
	// Drain commits every remaining filled slot before stopping.
	Drain ShutdownMode = iota
	// Discard stops immediately and logs the number of lost slots.
	Discard
)

func ParseShutdownMode(s string) (ShutdownMode, error) {
	switch s {
	case "drain":
		return Drain, nil
	case "discard":
		return Discard, nil
	default:
		return 0, fmt.Errorf("unknown shutdown mode %q", s)
	}
}

type Config struct {
	Workers int
	// CommitRetries bounds extra attempts after a transient commit failure.
	CommitRetries int
	RetryBackoff  time.Duration
	// AwaitTimeout caps how long an AwaitCommit submission waits for its
	// completion signal. Zero means the submission context alone bounds it.
	AwaitTimeout time.Duration
	Shutdown     ShutdownMode
}

func (c *Config) withDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.CommitRetries < 0 {
		c.CommitRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 50 * time.Millisecond
	}
}

// Coordinator wires the codec, the buffer and the commit sink together. It
// exclusively owns the buffer and the worker pool for its lifetime.
type Coordinator struct {
	cfg    Config
	codec  *codec.Codec
	buf    *buffer.Buffer
	commit store.Sink

	mu      sync.Mutex
	waiters map[uint64]chan error

	metrics Metrics
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
}

// New builds a coordinator over its own buffer. Buffer capacity and policy
// are fixed here for the process lifetime; an invalid capacity fails fast.
func New(cfg Config, cdc *codec.Codec, bufCfg buffer.Config, sink store.Sink) (*Coordinator, error) {
	cfg.withDefaults()
	if cdc == nil {
		return nil, errors.New("pipeline: codec is required")
	}
	if sink == nil {
		return nil, errors.New("pipeline: commit sink is required")
	}
	c := &Coordinator{
		cfg:     cfg,
		codec:   cdc,
		commit:  sink,
		waiters: make(map[uint64]chan error),
	}
	bufCfg.OnEvict = func(seq uint64) {
		c.metrics.Dropped.Add(1)
		log.WithField("seq", seq).Warn("buffer full, oldest event dropped")
	}
	buf, err := buffer.New(bufCfg)
	if err != nil {
		return nil, err
	}
	c.buf = buf
	return c, nil
}

// Start launches the worker pool. Workers run until Shutdown.
func (c *Coordinator) Start(ctx context.Context) {
	if c.started {
		return
	}
	c.started = true
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go func(id int) {
			defer c.wg.Done()
			c.runWorker(wctx, id)
		}(i)
	}
}

// Submit encodes and buffers one event. Under AwaitCommit it blocks until a
// worker reports the commit outcome or the deadline elapses.
func (c *Coordinator) Submit(ctx context.Context, ev domain.Event, mode domain.SubmitMode) domain.SubmitResult {
	c.metrics.Submitted.Add(1)

	strand, err := c.codec.Encode(ev)
	if err != nil {
		c.metrics.Invalid.Add(1)
		log.WithError(err).WithField("user", ev.UserID).Debug("rejected malformed event")
		return domain.ResultInvalid
	}

	var done chan error
	var onAssign func(uint64)
	var seq uint64
	if mode == domain.AwaitCommit {
		done = make(chan error, 1)
		// Registration runs under the ring lock at sequence assignment,
		// so a worker cannot resolve the signal before it exists.
		onAssign = func(s uint64) {
			seq = s
			c.mu.Lock()
			c.waiters[s] = done
			c.mu.Unlock()
		}
	}

	if _, err := c.buf.Push(strand, onAssign); err != nil {
		c.metrics.Overloaded.Add(1)
		if errors.Is(err, buffer.ErrTimeout) {
			log.WithField("user", ev.UserID).Warn("buffer saturated, push timed out")
		}
		return domain.ResultOverloaded
	}
	if mode == domain.FireAndForget {
		return domain.ResultQueued
	}

	waitCtx := ctx
	if c.cfg.AwaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.cfg.AwaitTimeout)
		defer cancel()
	}
	select {
	case err := <-done:
		if err != nil {
			return domain.ResultFailed
		}
		return domain.ResultCommitted
	case <-waitCtx.Done():
		// Abandon the signal; a worker resolving it later is a no-op.
		c.mu.Lock()
		delete(c.waiters, seq)
		c.mu.Unlock()
		return domain.ResultDeadlineExceeded
	}
}

func (c *Coordinator) runWorker(ctx context.Context, id int) {
	wlog := log.WithField("worker", id)
	for {
		item, err := c.buf.PopWait(ctx)
		if err != nil {
			return
		}
		ev, err := c.codec.Decode(item.Strand)
		if err != nil {
			c.metrics.Poisoned.Add(1)
			wlog.WithError(err).WithField("seq", item.Seq).Error("poisoned record dropped")
			c.resolve(item.Seq, err)
			continue
		}
		err = c.commitWithRetry(ctx, wlog, ev)
		if err != nil {
			c.metrics.CommitFailed.Add(1)
			wlog.WithError(err).WithFields(log.Fields{"seq": item.Seq, "user": ev.UserID}).Error("commit failed")
		} else {
			c.metrics.Committed.Add(1)
		}
		c.resolve(item.Seq, err)
	}
}

func (c *Coordinator) commitWithRetry(ctx context.Context, wlog *log.Entry, ev domain.Event) error {
	backoff := c.cfg.RetryBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = c.commit.Commit(ctx, ev)
		if err == nil || !store.IsTransient(err) || attempt >= c.cfg.CommitRetries {
			return err
		}
		c.metrics.CommitRetries.Add(1)
		wlog.WithError(err).WithFields(log.Fields{"user": ev.UserID, "attempt": attempt + 1}).Warn("transient commit failure, retrying")
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// resolve delivers the commit outcome to a registered waiter. Resolving a
// signal nobody awaits anymore is a no-op.
func (c *Coordinator) resolve(seq uint64, err error) {
	c.mu.Lock()
	done, ok := c.waiters[seq]
	if ok {
		delete(c.waiters, seq)
	}
	c.mu.Unlock()
	if ok {
		done <- err
	}
}

// Shutdown stops the pipeline. Under Drain it first closes the buffer to new
// pushes and lets workers finish the remaining filled slots; under Discard it
// stops the workers and logs how many slots were lost.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	switch c.cfg.Shutdown {
	case Discard:
		if c.cancel != nil {
			c.cancel()
		}
		c.buf.Close()
		if n := c.buf.Len(); n > 0 {
			log.WithField("discarded", n).Warn("shutdown discarded buffered events")
		}
	default:
		c.buf.Close()
		log.WithField("remaining", c.buf.Len()).Info("draining buffer before shutdown")
	}

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		if c.cancel != nil {
			c.cancel()
		}
		<-finished
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
	if c.cancel != nil {
		c.cancel()
	}
	log.WithFields(log.Fields{
		"committed": c.metrics.Committed.Load(),
		"failed":    c.metrics.CommitFailed.Load(),
		"dropped":   c.metrics.Dropped.Load(),
		"poisoned":  c.metrics.Poisoned.Load(),
	}).Info("pipeline stopped")
	return nil
}

// BufferLen reports the current number of filled slots.
func (c *Coordinator) BufferLen() int { return c.buf.Len() }

// Stats exposes the terminal-outcome counters.
func (c *Coordinator) Stats() MetricsSnapshot { return c.metrics.Snapshot() }
