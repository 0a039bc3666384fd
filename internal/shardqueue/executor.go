// Package shardqueue runs jobs on worker goroutines partitioned by a stable
// hash of a key. FIFO order holds within a shard; jobs with different keys may
// run in parallel. Callers must not Submit concurrently for the same key.
package shardqueue

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

type queued struct {
	ctx context.Context
	job Job
}

// Executor owns the shard workers. Construct with NewExecutor, stop with
// Stop or Close.
type Executor struct {
	cfg    Config
	log    zerolog.Logger
	queues []chan queued

	done   chan struct{}
	closed uint32

	wg sync.WaitGroup
}

// NewExecutor applies defaults to cfg and starts one worker per shard.
func NewExecutor(cfg Config, log zerolog.Logger) *Executor {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 100 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 20 * time.Second
	}

	e := &Executor{
		cfg:    cfg,
		log:    log.With().Str("component", "shardqueue").Logger(),
		queues: make([]chan queued, cfg.Shards),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan queued, cfg.QueueSize)
		e.queues[i] = ch
		e.wg.Add(1)
		go e.runWorker(i, ch)
	}
	return e
}

// Submit enqueues job on the shard derived from key. It returns
// ErrExecutorClosed after Stop, a *QueueFullError when the shard stays full
// past EnqueueTimeout, or ctx.Err() when the caller context wins first.
func (e *Executor) Submit(ctx context.Context, key string, job Job) error {
	if atomic.LoadUint32(&e.closed) == 1 {
		return ErrExecutorClosed
	}
	select {
	case <-e.done:
		return ErrExecutorClosed
	default:
	}

	shard := e.shardFor(key)
	ch := e.queues[shard]

	timer := time.NewTimer(e.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- queued{ctx: ctx, job: job}:
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		return nil
	case <-e.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		queueFullTotal.WithLabelValues(labelFor(shard)).Inc()
		return &QueueFullError{Shard: shard, Length: len(ch), Capacity: cap(ch)}
	}
}

// Barrier enqueues a no-op job for key and waits until it runs, so every job
// submitted earlier for that key has completed.
func (e *Executor) Barrier(ctx context.Context, key string) error {
	ran := make(chan struct{})
	j := JobFunc(func(context.Context) error {
		close(ran)
		return nil
	})
	if err := e.Submit(ctx, key, j); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ran:
		return nil
	}
}

// Stop drains every shard and waits for the workers to exit. Idempotent.
func (e *Executor) Stop() {
	if !atomic.CompareAndSwapUint32(&e.closed, 0, 1) {
		return
	}
	e.log.Info().Int("shards", e.cfg.Shards).Msg("stopping executor")
	close(e.done)
	e.wg.Wait()
	e.log.Info().Msg("executor stopped")
}

// Close satisfies io.Closer.
func (e *Executor) Close() error {
	e.Stop()
	return nil
}

func (e *Executor) runWorker(idx int, ch <-chan queued) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Int("shard", idx).Interface("panic", r).Msg("worker panic")
		}
	}()

	label := labelFor(idx)

	for {
		select {
		case qj := <-ch:
			if qj.job == nil {
				continue
			}
			select {
			case <-qj.ctx.Done():
				e.handleError(qj.ctx.Err())
			default:
				e.runWithRetry(label, qj)
			}
			queueDepth.WithLabelValues(label).Set(float64(len(ch)))

		case <-e.done:
			drained := 0
			for {
				select {
				case qj := <-ch:
					if qj.job != nil {
						_ = qj.job.Run(qj.ctx)
						drained++
					}
				default:
					if drained > 0 {
						e.log.Info().Int("shard", idx).Int("drained", drained).Msg("drained remaining jobs")
					}
					queueDepth.WithLabelValues(label).Set(0)
					return
				}
			}
		}
	}
}

func (e *Executor) runWithRetry(label string, qj queued) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = e.cfg.MaxInterval
	exp.Reset()

	attempts := 0
	for {
		start := time.Now()
		err := qj.job.Run(qj.ctx)
		runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

		if err == nil {
			return
		}
		if IsPermanent(err) {
			e.handleError(err)
			return
		}
		if attempts >= e.cfg.MaxAttempts-1 {
			e.handleError(err)
			return
		}

		attempts++
		select {
		case <-time.After(exp.NextBackOff()):
		case <-e.done:
			return
		case <-qj.ctx.Done():
			e.handleError(qj.ctx.Err())
			return
		}
	}
}

func (e *Executor) handleError(err error) {
	if err == nil || e.cfg.ErrorHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("error handler panic")
		}
	}()
	e.cfg.ErrorHandler(err)
}

func (e *Executor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % e.cfg.Shards
}
