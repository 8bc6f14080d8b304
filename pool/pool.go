package pool

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/hostbridge/atomics"
	"github.com/wippyai/hostbridge/errors"
	"github.com/wippyai/hostbridge/eventloop"
)

// Descriptor is what each worker receives.
type Descriptor struct {
	Entry    any
	Threads  uint32
	Receiver uint32
}

// Builder is the module-side pool builder object.
type Builder interface {
	MainEntry(ctx context.Context) (any, error)
	ThreadCount(ctx context.Context) (uint32, error)
	ReceiverHandle(ctx context.Context) (uint32, error)
	Build(ctx context.Context) error
	Release(ctx context.Context) error
}

// Init is handed to the spawner for each worker.
type Init struct {
	Index      int
	Descriptor Descriptor
}

// Spawner creates worker execution contexts.
type Spawner interface {
	// Supported reports why the host cannot run parallel workers, or nil.
	Supported() error
	Spawn(ctx context.Context, init Init) (Worker, error)
}

// Worker is one spawned execution context.
type Worker interface {
	// Run enters the worker entry with the receiver handle. It blocks for
	// the worker's lifetime.
	Run(ctx context.Context, receiver uint32) error
	Close(ctx context.Context) error
}

// Options configures Start.
type Options struct {
	Builder  Builder
	Spawner  Spawner
	Loop     *eventloop.Loop
	Notifier *atomics.Notifier

	// MaxWorkers caps the requested thread count; 0 means no cap.
	MaxWorkers int
	Logger     *zap.Logger
}

// State is the lifecycle stage of a pool.
type State int32

const (
	Requested State = iota
	Spawning
	Starting
	Running
	TornDown
	Failed
)

func (s State) String() string {
	switch s {
	case Requested:
		return "requested"
	case Spawning:
		return "spawning"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case TornDown:
		return "torn-down"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Pool is a started set of workers.
type Pool struct {
	desc   Descriptor
	logger *zap.Logger
	state  atomic.Int32
	ready  atomics.Cell
	runs   atomic.Int32

	cancel context.CancelFunc
	group  *errgroup.Group

	mu      sync.Mutex
	workers []Worker
	failure error
}

// Start begins the bootstrap. It must be called on the main loop; the
// returned promise settles there with the *Pool or an error.
func Start(ctx context.Context, opts Options) (*Pool, *eventloop.Promise) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{logger: logger, ready: atomics.NewCell(0)}
	p.setState(Requested)
	promise, resolve, reject := eventloop.NewPromise(opts.Loop)

	desc, err := describe(ctx, opts.Builder)
	if err != nil {
		p.recordFailure(err)
		p.setState(Failed)
		reject(err)
		return p, promise
	}

	// The builder is freed exactly once on the loop, whatever the outcome.
	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			if err := opts.Builder.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("pool builder release failed", zap.Error(err))
			}
		})
	}
	fail := func(err error) (*Pool, *eventloop.Promise) {
		p.recordFailure(err)
		p.setState(Failed)
		release()
		reject(err)
		return p, promise
	}
	p.desc = desc
	if desc.Threads == 0 {
		return fail(errors.UnsupportedConcurrency("pool requested with zero threads"))
	}
	if opts.MaxWorkers > 0 && int(desc.Threads) > opts.MaxWorkers {
		return fail(errors.UnsupportedConcurrency(
			fmt.Sprintf("pool of %d threads exceeds the limit of %d workers", desc.Threads, opts.MaxWorkers)))
	}
	if err := opts.Spawner.Supported(); err != nil {
		return fail(errors.New(errors.PhasePool, errors.KindUnsupportedConcurrency).
			Detail("host cannot spawn parallel workers").
			Cause(err).
			Build())
	}

	poolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, groupCtx := errgroup.WithContext(poolCtx)
	p.cancel = cancel
	p.group = group
	p.setState(Spawning)

	logger.Debug("spawning worker pool",
		zap.Uint32("threads", desc.Threads),
		zap.Uint32("receiver", desc.Receiver))

	for i := 0; i < int(desc.Threads); i++ {
		group.Go(func() error {
			return p.runWorker(groupCtx, opts, Init{Index: i, Descriptor: desc})
		})
	}

	go func() {
		if err := group.Wait(); err != nil && poolCtx.Err() == nil {
			p.abandon(err)
		}
	}()

	waiter := atomics.Async{N: opts.Notifier, Loop: opts.Loop}
	err = atomics.WaitUntil(groupCtx, waiter, p.ready, int32(desc.Threads), func(r atomics.Result) {
		if r != atomics.OK {
			release()
			reject(p.failureOr(fmt.Errorf("pool readiness wait: %s", r)))
			return
		}
		err := opts.Builder.Build(poolCtx)
		release()
		if err != nil {
			p.abandon(err)
			reject(errors.New(errors.PhasePool, errors.KindHostOperationFailed).
				Detail("pool builder build").
				Cause(err).
				Build())
			return
		}
		p.setState(Running)
		logger.Debug("worker pool running", zap.Uint32("threads", desc.Threads))
		resolve(p)
	})
	if err != nil {
		p.abandon(err)
		release()
		reject(err)
	}
	return p, promise
}

func describe(ctx context.Context, b Builder) (Descriptor, error) {
	var d Descriptor
	var err error
	if d.Threads, err = b.ThreadCount(ctx); err != nil {
		return d, fmt.Errorf("pool thread count: %w", err)
	}
	if d.Receiver, err = b.ReceiverHandle(ctx); err != nil {
		return d, fmt.Errorf("pool receiver: %w", err)
	}
	if d.Entry, err = b.MainEntry(ctx); err != nil {
		return d, fmt.Errorf("pool main entry: %w", err)
	}
	return d, nil
}

func (p *Pool) runWorker(ctx context.Context, opts Options, init Init) error {
	w, err := opts.Spawner.Spawn(ctx, init)
	if err != nil {
		err = errors.New(errors.PhasePool, errors.KindInstantiation).
			Detail("spawn worker %d", init.Index).
			Cause(err).
			Build()
		p.abandon(err)
		return err
	}
	if !p.add(w) {
		_ = w.Close(context.WithoutCancel(ctx))
		return ctx.Err()
	}
	p.compareAndSetState(Spawning, Starting)

	p.ready.Add(1)
	opts.Notifier.Notify(p.ready, atomics.All)

	p.runs.Add(1)
	if err := w.Run(ctx, init.Descriptor.Receiver); err != nil && ctx.Err() == nil {
		p.logger.Warn("worker exited with error", zap.Int("worker", init.Index), zap.Error(err))
		p.recordFailure(err)
		return err
	}
	return nil
}

// add records a spawned worker. It reports false once the pool is
// abandoned, in which case the caller closes the worker itself.
func (p *Pool) add(w Worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State() == Failed || p.State() == TornDown {
		return false
	}
	p.workers = append(p.workers, w)
	return true
}

func (p *Pool) recordFailure(err error) {
	p.mu.Lock()
	if p.failure == nil {
		p.failure = err
	}
	p.mu.Unlock()
}

func (p *Pool) failureOr(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure != nil {
		return p.failure
	}
	return err
}

// abandon cancels every worker after a failure.
func (p *Pool) abandon(err error) {
	p.recordFailure(err)
	p.setState(Failed)
	p.cancel()
	p.closeWorkers(context.Background())
}

func (p *Pool) closeWorkers(ctx context.Context) error {
	p.mu.Lock()
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()

	var errs []error
	for _, w := range workers {
		if err := w.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Close cancels and closes every worker, then waits for them to exit.
func (p *Pool) Close(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	if p.State() != Failed {
		p.setState(TornDown)
	}
	p.cancel()
	err := p.closeWorkers(ctx)
	_ = p.group.Wait()
	return err
}

// Wait blocks until every worker has exited and returns the first failure.
func (p *Pool) Wait() error {
	if p.group == nil {
		return p.failureOr(nil)
	}
	_ = p.group.Wait()
	return p.failureOr(nil)
}

// Descriptor returns the descriptor the workers received.
func (p *Pool) Descriptor() Descriptor {
	return p.desc
}

// Ready returns how many workers reported ready.
func (p *Pool) Ready() int {
	return int(p.ready.Load())
}

// Runs returns how many workers entered the worker entry.
func (p *Pool) Runs() int {
	return int(p.runs.Load())
}

// Workers returns the number of live workers.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// State returns the lifecycle stage.
func (p *Pool) State() State {
	return State(p.state.Load())
}

func (p *Pool) setState(s State) {
	p.state.Store(int32(s))
}

func (p *Pool) compareAndSetState(from, to State) {
	p.state.CompareAndSwap(int32(from), int32(to))
}
