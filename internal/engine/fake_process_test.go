package engine

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

var errKilled = errors.New("signal: killed")

// fakeProcess is an in-memory engine process driven by the test.
type fakeProcess struct {
	pid int

	stdinR, stdoutR, stderrR *io.PipeReader
	stdinW, stdoutW, stderrW *io.PipeWriter
	lines                    *bufio.Reader

	once sync.Once
	done chan struct{}
	err  error
}

func newFakeProcess(pid int) *fakeProcess {
	p := &fakeProcess{pid: pid, done: make(chan struct{})}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	p.lines = bufio.NewReader(p.stdinR)
	return p
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader     { return p.stderrR }
func (p *fakeProcess) Pid() int              { return p.pid }

func (p *fakeProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *fakeProcess) Kill() error {
	p.exit(errKilled)
	return nil
}

// exit terminates the process with err; nil is a clean exit.
func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		_ = p.stdinR.CloseWithError(io.ErrClosedPipe)
		close(p.done)
	})
}

func (p *fakeProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ready emits the readiness sentinel. It is called from spawn hooks, so a
// write error on an already dead process is ignored.
func (p *fakeProcess) ready() {
	_, _ = io.WriteString(p.stderrW, "loading graph\nReady for queries\n")
}

func (p *fakeProcess) respond(s string) error {
	_, err := io.WriteString(p.stdoutW, s)
	return err
}

// nextRequest returns the next query line written by the engine.
func (p *fakeProcess) nextRequest(t *testing.T) string {
	t.Helper()
	ch := make(chan string, 1)
	go func() {
		line, _ := p.lines.ReadString('\n')
		ch <- line
	}()
	select {
	case line := <-ch:
		return strings.TrimSuffix(line, "\n")
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for engine request")
		return ""
	}
}

// fakeSpawner hands out fakeProcesses and runs onSpawn for each in its own
// goroutine.
type fakeSpawner struct {
	mu      sync.Mutex
	procs   []*fakeProcess
	spawned chan *fakeProcess
	onSpawn func(*fakeProcess)
}

func newFakeSpawner(onSpawn func(*fakeProcess)) *fakeSpawner {
	return &fakeSpawner{spawned: make(chan *fakeProcess, 64), onSpawn: onSpawn}
}

func (s *fakeSpawner) Spawn() (Process, error) {
	s.mu.Lock()
	p := newFakeProcess(1000 + len(s.procs))
	s.procs = append(s.procs, p)
	s.mu.Unlock()

	if s.onSpawn != nil {
		go s.onSpawn(p)
	}
	select {
	case s.spawned <- p:
	default:
	}
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) next(t *testing.T) *fakeProcess {
	t.Helper()
	select {
	case p := <-s.spawned:
		return p
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for spawn")
		return nil
	}
}

// recorder counts engine metrics calls.
type recorder struct {
	mu       sync.Mutex
	states   []string
	outcomes map[string]int
	restarts int
	late     int
	desyncs  int
}

func newRecorder() *recorder { return &recorder{outcomes: map[string]int{}} }

func (r *recorder) SetState(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) IncRestarts() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarts++
}

func (r *recorder) ObserveQuery(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *recorder) SetPending(int) {}

func (r *recorder) IncLateResponses() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.late++
}

func (r *recorder) IncProtocolDesync() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.desyncs++
}

func (r *recorder) snapshot() (late, desyncs int, outcomes map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.outcomes))
	for k, v := range r.outcomes {
		out[k] = v
	}
	return r.late, r.desyncs, out
}

func testConfig() Config {
	return Config{
		Start:         StartLazy,
		ReadySentinel: "Ready for queries",
		ReadyTimeout:  2 * time.Second,
		StartTimeout:  5 * time.Second,
		QueryTimeout:  5 * time.Second,
		RestartDelay:  time.Millisecond,
		MaxRestarts:   3,
		MaxPending:    64,
	}
}

func waitForState(t *testing.T, e *Engine, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("engine state = %v, want %v", e.State(), want)
}
