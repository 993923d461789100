// Package engine supervises an external pathfinding process and exposes it
// as a concurrent request/response service.
//
// The process speaks an untagged line protocol: one "<src> <dst>" line in,
// one "<distance> <id>..." line out. Correlation relies on strict FIFO
// order, so every query passes through a single writer goroutine that
// appends it to the pending queue before writing, and a single stdout
// reader resolves queue entries in arrival order.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/signalsfoundry/roadgraph/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const tracerName = "github.com/signalsfoundry/roadgraph/internal/engine"

// StartPolicy selects when the first process is spawned.
type StartPolicy string

const (
	// StartLazy spawns on the first query.
	StartLazy StartPolicy = "lazy"
	// StartEager spawns from Start and respawns after a clean exit.
	StartEager StartPolicy = "eager"
)

// Config tunes the supervisor.
type Config struct {
	Start         StartPolicy   `yaml:"start"`
	ReadySentinel string        `yaml:"readySentinel"`
	ReadyTimeout  time.Duration `yaml:"readyTimeout"`
	StartTimeout  time.Duration `yaml:"startTimeout"`
	QueryTimeout  time.Duration `yaml:"queryTimeout"`
	RestartDelay  time.Duration `yaml:"restartDelay"`
	// MaxRestarts is the number of consecutive failed starts tolerated
	// before the engine is disabled for good.
	MaxRestarts int `yaml:"maxRestarts"`
	MaxPending  int `yaml:"maxPending"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Start:         StartLazy,
		ReadySentinel: "Ready for queries",
		ReadyTimeout:  10 * time.Second,
		StartTimeout:  60 * time.Second,
		QueryTimeout:  30 * time.Second,
		RestartDelay:  2 * time.Second,
		MaxRestarts:   3,
		MaxPending:    1024,
	}
}

// Recorder receives engine metrics. observability.EngineCollector
// implements it.
type Recorder interface {
	SetState(state string)
	IncRestarts()
	ObserveQuery(outcome string, d time.Duration)
	SetPending(n int)
	IncLateResponses()
	IncProtocolDesync()
}

type noopRecorder struct{}

func (noopRecorder) SetState(string)                    {}
func (noopRecorder) IncRestarts()                       {}
func (noopRecorder) ObserveQuery(string, time.Duration) {}
func (noopRecorder) SetPending(int)                     {}
func (noopRecorder) IncLateResponses()                  {}
func (noopRecorder) IncProtocolDesync()                 {}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the logger; stderr lines of the process are logged at
// debug level through it.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.rec = r
		}
	}
}

// Snapshot is a point-in-time view of the supervisor.
type Snapshot struct {
	State     State  `json:"state"`
	Restarts  int    `json:"restarts"`
	Pending   int64  `json:"pending"`
	PID       int    `json:"pid,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

// Engine is the routing process orchestrator. It is safe for concurrent use.
type Engine struct {
	cfg     Config
	spawner Spawner
	log     logging.Logger
	rec     Recorder
	tracer  trace.Tracer
	sem     *semaphore.Weighted

	inflight atomic.Int64

	mu         sync.Mutex
	state      State
	changed    chan struct{}
	inst       *instance
	gen        int
	restarts   int
	retry      backoff.BackOff
	startTimer *time.Timer
	retryTimer *time.Timer
	lastErr    error
	closed     bool
}

// New builds an Engine in the NotStarted state. Zero-valued fields of cfg
// take their defaults, except ReadyTimeout, where zero makes queries fail
// fast with ErrNotReady instead of waiting, and MaxRestarts, where values
// below 1 mean 1.
func New(cfg Config, spawner Spawner, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		spawner: spawner,
		log:     logging.Noop(),
		rec:     noopRecorder{},
		tracer:  otel.Tracer(tracerName),
		sem:     semaphore.NewWeighted(int64(cfg.MaxPending)),
		state:   NotStarted,
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logging.Component("engine"))
	e.retry = e.newRetry()
	e.rec.SetState(NotStarted.String())
	return e
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Start == "" {
		c.Start = def.Start
	}
	if c.ReadySentinel == "" {
		c.ReadySentinel = def.ReadySentinel
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = def.StartTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = def.QueryTimeout
	}
	if c.RestartDelay < 0 {
		c.RestartDelay = 0
	}
	if c.MaxRestarts < 1 {
		c.MaxRestarts = 1
	}
	if c.MaxPending <= 0 {
		c.MaxPending = def.MaxPending
	}
	return c
}

func (e *Engine) newRetry() backoff.BackOff {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(e.cfg.RestartDelay), uint64(e.cfg.MaxRestarts-1))
	b.Reset()
	return b
}

// Start spawns the process now instead of on the first query. It returns
// once the process is running; readiness is reached asynchronously.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	switch e.state {
	case NotStarted:
		e.spawnLocked(ctx)
	case Disabled:
		return e.disabledErrLocked()
	}
	if e.state == Disabled {
		return e.disabledErrLocked()
	}
	return nil
}

// WaitReady blocks until the engine is Ready, it is disabled, or ctx ends.
func (e *Engine) WaitReady(ctx context.Context) error {
	for {
		e.mu.Lock()
		state, ch := e.state, e.changed
		var err error
		if state == Disabled {
			err = e.disabledErrLocked()
		}
		e.mu.Unlock()

		switch state {
		case Ready:
			return nil
		case Disabled:
			return err
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return errors.WithMessage(ErrNotReady, ctx.Err().Error())
		}
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot reports the supervisor's state for diagnostics.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		State:    e.state,
		Restarts: e.restarts,
		Pending:  e.inflight.Load(),
	}
	if e.inst != nil {
		s.PID = e.inst.proc.Pid()
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

// Query asks the engine for the shortest path from src to dst. It returns
// ErrNoPath when the engine found none, and an error wrapping
// ErrUnavailable when no answer could be obtained.
func (e *Engine) Query(ctx context.Context, src, dst int64) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Query", trace.WithAttributes(
		attribute.Int64("route.source", src),
		attribute.Int64("route.destination", dst),
	))
	defer span.End()

	start := time.Now()
	res, err := e.query(ctx, src, dst)
	e.rec.ObserveQuery(outcome(err), time.Since(start))

	if err != nil && !errors.Is(err, ErrNoPath) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("route.path_length", len(res.Path)))
	return res, err
}

func (e *Engine) query(ctx context.Context, src, dst int64) (Result, error) {
	if !e.sem.TryAcquire(1) {
		return Result{}, ErrOverloaded
	}
	defer e.sem.Release(1)

	e.rec.SetPending(int(e.inflight.Add(1)))
	defer func() { e.rec.SetPending(int(e.inflight.Add(-1))) }()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	in, err := e.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	return in.submit(ctx, src, dst)
}

// acquire returns the ready instance, spawning one for a lazy start and
// waiting at most ReadyTimeout for it to become ready.
func (e *Engine) acquire(ctx context.Context) (*instance, error) {
	var deadline <-chan time.Time
	if e.cfg.ReadyTimeout > 0 {
		t := time.NewTimer(e.cfg.ReadyTimeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil, ErrClosed
		}
		if e.state == NotStarted {
			e.spawnLocked(ctx)
		}
		switch e.state {
		case Ready:
			in := e.inst
			e.mu.Unlock()
			return in, nil
		case Disabled:
			err := e.disabledErrLocked()
			e.mu.Unlock()
			return nil, err
		}
		ch := e.changed
		e.mu.Unlock()

		if deadline == nil {
			return nil, ErrNotReady
		}
		select {
		case <-ch:
		case <-deadline:
			return nil, ErrNotReady
		case <-ctx.Done():
			return nil, errors.WithMessage(ErrTimeout, ctx.Err().Error())
		}
	}
}

func (e *Engine) disabledErrLocked() error {
	if e.closed {
		return ErrClosed
	}
	if e.lastErr != nil {
		return errors.WithMessage(ErrDisabled, e.lastErr.Error())
	}
	return ErrDisabled
}

// Close kills the running process and disables the engine. Pending queries
// resolve with ErrUnavailable.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopTimersLocked()
	in := e.inst
	if e.state != Disabled {
		e.setStateLocked(Disabled)
	}
	e.mu.Unlock()

	if in == nil {
		return nil
	}
	_ = in.proc.Stdin().Close()
	select {
	case <-in.done:
		return nil
	case <-ctx.Done():
	}
	if err := in.proc.Kill(); err != nil {
		return errors.Wrap(err, "kill engine")
	}
	<-in.done
	return nil
}

func (e *Engine) spawnLocked(ctx context.Context) {
	proc, err := e.spawner.Spawn()
	if err != nil {
		e.lastErr = err
		e.log.Error(ctx, "engine spawn failed; disabling", logging.Err(err))
		e.setStateLocked(Disabled)
		return
	}

	e.gen++
	in := newInstance(e, proc, e.gen)
	e.inst = in
	e.setStateLocked(Starting)
	in.log.Info(ctx, "engine process started")

	e.startTimer = time.AfterFunc(e.cfg.StartTimeout, func() { e.startTimedOut(in) })
	in.run()
}

func (e *Engine) markReady(in *instance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inst != in || e.closed || !in.setReady() {
		return
	}
	if e.startTimer != nil {
		e.startTimer.Stop()
		e.startTimer = nil
	}
	e.retry.Reset()
	e.lastErr = nil
	e.setStateLocked(Ready)
	in.log.Info(context.Background(), "engine ready")
}

func (e *Engine) startTimedOut(in *instance) {
	e.mu.Lock()
	stale := e.inst != in || in.isReady()
	e.mu.Unlock()
	if stale {
		return
	}
	in.log.Warn(context.Background(), "engine did not become ready in time; killing",
		logging.Duration("start_timeout", e.cfg.StartTimeout))
	_ = in.proc.Kill()
}

// handleExit runs once per instance after its streams are drained and the
// process has been reaped.
func (e *Engine) handleExit(in *instance, waitErr error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inst != in {
		return
	}
	e.inst = nil
	if e.startTimer != nil {
		e.startTimer.Stop()
		e.startTimer = nil
	}
	if e.closed {
		in.log.Info(context.Background(), "engine process stopped")
		return
	}

	ctx := context.Background()
	code := exitCode(waitErr)
	if waitErr == nil && in.isReady() {
		in.log.Info(ctx, "engine process exited cleanly")
		e.setStateLocked(NotStarted)
		if e.cfg.Start == StartEager {
			e.scheduleLocked(e.cfg.RestartDelay, NotStarted)
		}
		return
	}

	if waitErr != nil {
		e.lastErr = errors.Wrapf(waitErr, "engine exited with code %d", code)
	} else {
		e.lastErr = errors.New("engine exited before becoming ready")
	}

	next := e.retry.NextBackOff()
	if next == backoff.Stop {
		in.log.Error(ctx, "engine restart budget exhausted; disabling",
			logging.Int("exit_code", code),
			logging.Int("max_restarts", e.cfg.MaxRestarts),
			logging.Err(e.lastErr))
		e.setStateLocked(Disabled)
		return
	}
	in.log.Warn(ctx, "engine process failed; scheduling restart",
		logging.Int("exit_code", code),
		logging.Duration("delay", next),
		logging.Err(e.lastErr))
	e.setStateLocked(Degraded)
	e.scheduleLocked(next, Degraded)
}

// scheduleLocked respawns after delay if the engine is still in from.
func (e *Engine) scheduleLocked(delay time.Duration, from State) {
	e.retryTimer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed || e.state != from {
			return
		}
		e.restarts++
		e.rec.IncRestarts()
		e.spawnLocked(context.Background())
	})
}

func (e *Engine) stopTimersLocked() {
	if e.startTimer != nil {
		e.startTimer.Stop()
		e.startTimer = nil
	}
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

func (e *Engine) setStateLocked(next State) {
	if !e.state.CanTransition(next) {
		e.log.Error(context.Background(), "invalid engine state transition",
			logging.String("from", e.state.String()),
			logging.String("to", next.String()))
		return
	}
	e.log.Debug(context.Background(), "engine state change",
		logging.String("from", e.state.String()),
		logging.String("to", next.String()))
	e.state = next
	close(e.changed)
	e.changed = make(chan struct{})
	e.rec.SetState(next.String())
}
