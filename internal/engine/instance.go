package engine

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/signalsfoundry/roadgraph/internal/logging"
)

const (
	pendingWaiting int32 = iota
	pendingDone
	pendingAbandoned
)

type reply struct {
	res Result
	err error
}

// pending is one written query awaiting its response line.
type pending struct {
	line   string
	result chan reply
	state  atomic.Int32
}

func newPending(line string) *pending {
	return &pending{line: line, result: make(chan reply, 1)}
}

// complete delivers r unless the caller already gave up, in which case it
// reports false.
func (p *pending) complete(res Result, err error) bool {
	if !p.state.CompareAndSwap(pendingWaiting, pendingDone) {
		return false
	}
	p.result <- reply{res: res, err: err}
	return true
}

// abandon marks the request as timed out. It fails if a reply already won.
func (p *pending) abandon() bool {
	return p.state.CompareAndSwap(pendingWaiting, pendingAbandoned)
}

// instance owns one spawned process: a single writer goroutine for stdin, a
// single reader for stdout, a stderr reader, and the FIFO queue joining them.
type instance struct {
	eng  *Engine
	proc Process
	log  logging.Logger
	gen  int

	reqs chan *pending
	done chan struct{}

	mu    sync.Mutex
	queue []*pending
	dead  bool
	ready bool
}

func newInstance(e *Engine, proc Process, gen int) *instance {
	return &instance{
		eng:  e,
		proc: proc,
		gen:  gen,
		log:  e.log.With(logging.Int("pid", proc.Pid()), logging.Int("generation", gen)),
		reqs: make(chan *pending),
		done: make(chan struct{}),
	}
}

func (in *instance) run() {
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		in.readStdout()
	}()
	go func() {
		defer readers.Done()
		in.readStderr()
	}()
	go in.writeLoop()
	go func() {
		readers.Wait()
		err := in.proc.Wait()
		in.shutdown()
		in.eng.handleExit(in, err)
	}()
}

// submit hands the query to the writer and waits for its response.
func (in *instance) submit(ctx context.Context, src, dst int64) (Result, error) {
	p := newPending(formatRequest(src, dst))

	select {
	case in.reqs <- p:
	case <-in.done:
		return Result{}, ErrExited
	case <-ctx.Done():
		return Result{}, errors.WithMessage(ErrTimeout, ctx.Err().Error())
	}

	select {
	case r := <-p.result:
		return r.res, r.err
	case <-ctx.Done():
		if p.abandon() {
			return Result{}, errors.WithMessage(ErrTimeout, ctx.Err().Error())
		}
		r := <-p.result
		return r.res, r.err
	}
}

// writeLoop enqueues each request immediately before writing its line, so
// queue order is write order.
func (in *instance) writeLoop() {
	stdin := in.proc.Stdin()
	for {
		select {
		case p := <-in.reqs:
			in.mu.Lock()
			if in.dead {
				in.mu.Unlock()
				p.complete(Result{}, ErrExited)
				continue
			}
			in.queue = append(in.queue, p)
			in.mu.Unlock()

			if _, err := io.WriteString(stdin, p.line); err != nil {
				in.log.Warn(context.Background(), "engine stdin write failed", logging.Err(err))
				_ = in.proc.Kill()
				return
			}
		case <-in.done:
			return
		}
	}
}

func (in *instance) readStdout() {
	err := readLines(in.proc.Stdout(), in.deliver)
	if err != nil {
		in.log.Warn(context.Background(), "engine stdout read failed", logging.Err(err))
	}
}

// deliver resolves the oldest pending request with line. A line with no
// pending request means the stream is out of step with the queue, and the
// instance is torn down.
func (in *instance) deliver(line string) bool {
	in.mu.Lock()
	if len(in.queue) == 0 {
		in.mu.Unlock()
		in.log.Error(context.Background(), "engine response with no pending request; killing instance",
			logging.Int("line_bytes", len(line)))
		in.eng.rec.IncProtocolDesync()
		_ = in.proc.Kill()
		return false
	}
	p := in.queue[0]
	in.queue[0] = nil
	in.queue = in.queue[1:]
	in.mu.Unlock()

	res, err := parseResponse(line)
	if errors.Is(err, ErrProtocol) {
		in.log.Warn(context.Background(), "malformed engine response", logging.Err(err))
	}
	if !p.complete(res, err) {
		in.eng.rec.IncLateResponses()
		in.log.Debug(context.Background(), "discarded late engine response")
	}
	return true
}

func (in *instance) readStderr() {
	sentinel := in.eng.cfg.ReadySentinel
	err := readLines(in.proc.Stderr(), func(line string) bool {
		in.log.Debug(context.Background(), "engine stderr", logging.String("line", line))
		if sentinel != "" && strings.Contains(line, sentinel) {
			in.eng.markReady(in)
		}
		return true
	})
	if err != nil {
		in.log.Debug(context.Background(), "engine stderr read failed", logging.Err(err))
	}
}

// shutdown fails every queued request. After it returns no request can be
// queued on this instance.
func (in *instance) shutdown() {
	in.mu.Lock()
	in.dead = true
	queued := in.queue
	in.queue = nil
	in.mu.Unlock()

	close(in.done)
	_ = in.proc.Stdin().Close()
	for _, p := range queued {
		p.complete(Result{}, ErrExited)
	}
	if len(queued) > 0 {
		in.log.Warn(context.Background(), "engine exited with pending queries", logging.Int("pending", len(queued)))
	}
}

func (in *instance) isReady() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.ready
}

func (in *instance) setReady() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.ready {
		return false
	}
	in.ready = true
	return true
}
