// Package pool runs file-transfer commands against a bounded set of
// reusable connections. Commands admitted while the pool is below its
// concurrency limit start immediately; the rest wait in a queue and are
// woken one at a time as running commands finish. Connections are
// created lazily, borrowed for a single execution, and returned to a
// free set afterwards.
package pool

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/joshsymonds/ferry/config"
)

// Pool constants.
const (
	// defaultPollInterval is how often a runner polls a command for
	// asynchronous completion during finalization.
	defaultPollInterval = 500 * time.Millisecond
	// defaultFillRetryInterval is how long a dispatch waits between
	// attempts to obtain a free connection.
	defaultFillRetryInterval = 100 * time.Millisecond
	// defaultTooManyBackoff is how long fill backs off after the remote
	// end refuses another session.
	defaultTooManyBackoff = 1500 * time.Millisecond
	// failureBufferSize is the capacity of the failures channel.
	failureBufferSize = 16
)

// PoolConfig holds configuration for a Pool.
type PoolConfig struct {
	// Limit is the maximum number of concurrently running commands and
	// the soft cap on live connections. Must be at least 1.
	Limit int

	// Factory opens new connections on demand.
	Factory ConnectionFactory

	// Loader maps raw per-command settings into connection configs.
	Loader ConfigLoader

	// Logger receives trace output when debug is enabled.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// PollInterval overrides the runner finalization poll interval.
	PollInterval time.Duration

	// FillRetryInterval overrides the free-connection wait interval.
	FillRetryInterval time.Duration

	// TooManyBackoff overrides the backoff after a "too many
	// connections" refusal from the factory.
	TooManyBackoff time.Duration
}

// execution is the pending record for one running command.
type execution struct {
	cmd  Command
	raw  config.Raw
	slot int
	id   int64
}

// Pool schedules transfer commands onto a bounded set of connections.
type Pool struct {
	limit int

	// mu guards connections, free, running, waiting and factory. These
	// are mutated from concurrent dispatch calls and completion
	// callbacks.
	mu          sync.Mutex
	connections []Connection
	free        []int // 1-based slot indices not bound to a command
	running     []*execution
	waiting     []Command // drained most-recently-queued first
	factory     ConnectionFactory

	loader ConfigLoader

	// gate bounds concurrent dispatch-provisioning sections.
	gate chan struct{}
	// connFreed signals dispatchers waiting for a free connection.
	connFreed chan struct{}
	failures  chan CommandFailure

	// fillLimiter paces factory calls so dispatchers waiting for a
	// connection do not hammer the factory every retry tick.
	fillLimiter *rate.Limiter

	poll      time.Duration
	fillRetry time.Duration
	backoff   time.Duration

	nextExecutorID atomic.Int64
	debug          atomic.Bool
	closed         atomic.Bool
	logger         *slog.Logger

	totalExecuted atomic.Int64
	totalRetried  atomic.Int64
	totalFailed   atomic.Int64
}

// New creates a pool with the given configuration.
func New(cfg PoolConfig) (*Pool, error) {
	if cfg.Limit < 1 {
		return nil, fmt.Errorf("limit must be at least 1")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("connection factory is required")
	}
	if cfg.Loader == nil {
		return nil, fmt.Errorf("config loader is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.FillRetryInterval <= 0 {
		cfg.FillRetryInterval = defaultFillRetryInterval
	}
	if cfg.TooManyBackoff <= 0 {
		cfg.TooManyBackoff = defaultTooManyBackoff
	}

	return &Pool{
		limit:       cfg.Limit,
		factory:     cfg.Factory,
		loader:      cfg.Loader,
		gate:        make(chan struct{}, cfg.Limit),
		connFreed:   make(chan struct{}, cfg.Limit),
		failures:    make(chan CommandFailure, failureBufferSize),
		fillLimiter: rate.NewLimiter(rate.Every(cfg.FillRetryInterval), cfg.Limit),
		poll:        cfg.PollInterval,
		fillRetry:   cfg.FillRetryInterval,
		backoff:     cfg.TooManyBackoff,
		logger:      cfg.Logger,
	}, nil
}

// AddCommand admits a command. If the pool is already running its limit
// of commands the command is queued and started later, when a running
// command finishes; queued commands wake most-recently-queued first.
// Otherwise the command is dispatched before AddCommand returns, which
// may block the caller until a connection is free. A fatal connection
// error aborts the dispatch and is returned.
func (p *Pool) AddCommand(cmd Command, raw config.Raw) error {
	if cmd == nil {
		return fmt.Errorf("command must not be nil")
	}
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.trace("adding command", slog.String("command", cmd.Name()))

	p.mu.Lock()
	if len(p.running) >= p.limit {
		p.waiting = append(p.waiting, cmd)
		waiting := len(p.waiting)
		p.mu.Unlock()

		p.trace("queuing command", slog.String("command", cmd.Name()), slog.Int("waiting", waiting))
		return nil
	}
	running := len(p.running)
	p.mu.Unlock()

	p.trace("running command", slog.String("command", cmd.Name()), slog.Int("running", running+1))
	return p.dispatch(cmd, raw)
}

// Empty reports whether the pool has no running and no queued commands.
func (p *Pool) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.running) == 0 && len(p.waiting) == 0
}

// EnableDebug turns on trace output.
func (p *Pool) EnableDebug() {
	p.debug.Store(true)
}

// DisableDebug turns off trace output.
func (p *Pool) DisableDebug() {
	p.debug.Store(false)
}

// SetConnectionFactory replaces the connection-opening capability.
func (p *Pool) SetConnectionFactory(factory ConnectionFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.factory = factory
}

// AddConnection appends externally supplied connections to the pool.
// Every new slot starts out free.
func (p *Pool) AddConnection(conns []Connection) {
	p.mu.Lock()
	for _, conn := range conns {
		p.connections = append(p.connections, conn)
		p.free = append(p.free, len(p.connections))
	}
	total := len(p.connections)
	p.mu.Unlock()

	p.trace("added connections", slog.Int("count", len(conns)), slog.Int("total", total))
}

// Failures delivers commands that failed even after their retry. The
// pool frees the connection and advances the queue regardless; this
// channel is the only place the second failure surfaces. It is buffered
// and never blocks a runner: when full, the oldest entry is dropped.
func (p *Pool) Failures() <-chan CommandFailure {
	return p.failures
}

// Close closes every connection the pool ever created. Best-effort:
// close errors are traced and skipped. Close is idempotent but not safe
// to call while commands are still running.
func (p *Pool) Close() {
	p.closed.Store(true)

	p.mu.Lock()
	conns := p.connections
	p.connections = nil
	p.free = nil
	p.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			p.trace("closing connection failed", slog.Any("error", err))
			continue
		}
		p.trace("closing connection")
	}
}

// dispatch provisions a connection for cmd and starts its runner. It
// holds one slot of the counting gate for the duration and blocks until
// a free connection exists. On a fatal connection error the completion
// handler runs for cmd (no connection was bound, so nothing is freed)
// and the error is returned.
func (p *Pool) dispatch(cmd Command, raw config.Raw) error {
	p.gate <- struct{}{}
	defer func() { <-p.gate }()

	id := p.nextExecutorID.Add(1)

	for {
		if err := p.fill(raw); err != nil {
			p.finish(cmd)
			return fmt.Errorf("dispatching %s: %w", cmd.Name(), err)
		}

		p.mu.Lock()
		if n := len(p.free); n > 0 {
			slot := p.free[n-1]
			p.free = p.free[:n-1]
			conn := p.connections[slot-1]
			p.running = append(p.running, &execution{cmd: cmd, raw: raw, slot: slot, id: id})
			p.mu.Unlock()

			cmd.SetConnection(conn)
			p.trace("scheduling executor",
				slog.Int64("executor_id", id),
				slog.String("command", cmd.Name()),
				slog.Int("slot", slot))

			r := &runner{
				cmd:       cmd,
				id:        id,
				poll:      p.poll,
				onFinish:  p.finish,
				onFailure: p.reportFailure,
				onRetry:   func() { p.totalRetried.Add(1) },
				trace:     p.trace,
			}
			p.totalExecuted.Add(1)
			go r.run()
			return nil
		}
		p.mu.Unlock()

		select {
		case <-p.connFreed:
		case <-time.After(p.fillRetry):
		}
	}
}

// fill creates new connections while the pool has no free connection
// and the connection list has not grown past the limit. The boundary is
// deliberately inclusive: the list may end up one batch over the limit,
// matching long-standing behavior. A "too many connections" refusal is
// transient: back off and let the dispatch retry loop come around
// again. Any other error is fatal for the dispatch attempt.
func (p *Pool) fill(raw config.Raw) error {
	p.mu.Lock()
	if len(p.free) > 0 || len(p.connections) > p.limit {
		p.mu.Unlock()
		return nil
	}
	factory := p.factory
	p.mu.Unlock()

	if !p.fillLimiter.Allow() {
		return nil
	}

	cfg, err := p.loader.Load(raw)
	if err != nil {
		return fmt.Errorf("loading connection config: %w", err)
	}

	conns, err := factory.Open(cfg)
	if err != nil {
		if IsTooManyConnections(err) {
			p.trace("too many connections, backing off", slog.Any("error", err))
			time.Sleep(p.backoff)
			return nil
		}
		return fmt.Errorf("opening connection: %w", err)
	}

	if len(conns) == 0 {
		return nil
	}

	p.mu.Lock()
	for _, conn := range conns {
		p.connections = append(p.connections, conn)
		p.free = append(p.free, len(p.connections))
	}
	total := len(p.connections)
	p.mu.Unlock()

	p.trace("created new connections", slog.Int("count", len(conns)), slog.Int("total", total))
	return nil
}

// finish is the completion handler, invoked exactly once per dispatched
// command (and once for a command whose dispatch failed). It frees the
// command's connection slot, signals waiting dispatchers, and wakes the
// most recently queued command, dispatching it with the finished
// command's config. Safe for concurrent invocation from runners.
func (p *Pool) finish(cmd Command) {
	var (
		raw   config.Raw
		next  Command
		freed bool
	)

	p.mu.Lock()
	for i, ex := range p.running {
		if ex.cmd == cmd {
			p.free = append(p.free, ex.slot)
			raw = ex.raw
			p.running = append(p.running[:i], p.running[i+1:]...)
			freed = true
			break
		}
	}
	waiting := len(p.waiting)
	if waiting > 0 {
		next = p.waiting[waiting-1]
		p.waiting = p.waiting[:waiting-1]
	}
	p.mu.Unlock()

	if freed {
		select {
		case p.connFreed <- struct{}{}:
		default:
		}
	}

	p.trace("command finished", slog.String("command", cmd.Name()), slog.Int("waiting", waiting))

	if next == nil {
		return
	}

	// The wake-up runs on its own goroutine: finish may be called from
	// a dispatch error path that still holds a gate slot, and a nested
	// synchronous dispatch could deadlock on the gate at limit 1.
	go func() {
		if err := p.dispatch(next, raw); err != nil {
			p.logger.Error("dispatching queued command failed",
				slog.String("command", next.Name()),
				slog.Any("error", err))
		}
	}()
}

// reportFailure records a post-retry execution failure and publishes it
// on the failures channel without ever blocking the runner.
func (p *Pool) reportFailure(cmd Command, id int64, err error) {
	p.totalFailed.Add(1)

	failure := CommandFailure{Command: cmd, ExecutorID: id, Err: err}
	for {
		select {
		case p.failures <- failure:
			return
		default:
		}

		// Channel full: drop the oldest failure to make room.
		select {
		case <-p.failures:
		default:
		}
	}
}

// trace emits a debug line when debug output is enabled.
func (p *Pool) trace(msg string, args ...any) {
	if !p.debug.Load() {
		return
	}
	p.logger.Debug(msg, args...)
}
