package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	boterrors "github.com/ducminhle1904/signal-bridge/internal/errors"
	"github.com/ducminhle1904/signal-bridge/internal/logger"
	"github.com/ducminhle1904/signal-bridge/internal/monitoring"
)

const component = "bridge"

// FileTransport implements Transport over a shared directory polled by the
// terminal. A single loop goroutine owns the queue, the pending map and the
// command file; Submit only hands work to that loop.
type FileTransport struct {
	cfg          Config
	commandPath  string
	responsePath string
	log          *logger.Logger
	prober       *Prober
	newID        func() string
	remove       func(path string) error

	submitCh  chan *pendingCommand
	expiredCh chan string
	stopping  chan struct{}
	stopOnce  sync.Once
	closeMu   sync.RWMutex
	closed    bool
	running   atomic.Bool

	// loop-owned state
	pending        map[string]*pendingCommand
	queue          []*pendingCommand
	inflight       *pendingCommand
	busySince      time.Time
	malformedTicks int
	stuckResponse  string // id of a settled response whose file could not be removed
	orphaned       int
}

// NewFileTransport creates a transport for cfg. Call Run to start it.
func NewFileTransport(cfg Config, log *logger.Logger) (*FileTransport, error) {
	if cfg.Dir == "" {
		return nil, boterrors.NewConfigurationError(component, "new", "bridge directory is required")
	}
	cfg.setDefaults()
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, boterrors.NewIOError(component, "new", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(component)

	newID := func() string { return uuid.NewString() }
	return &FileTransport{
		cfg:          cfg,
		commandPath:  filepath.Join(cfg.Dir, cfg.CommandFile),
		responsePath: filepath.Join(cfg.Dir, cfg.ResponseFile),
		log:          log,
		prober:       newProber(cfg, newID, log.With("prober")),
		newID:        newID,
		remove:       removeIfExists,
		submitCh:     make(chan *pendingCommand, cfg.QueueSize),
		expiredCh:    make(chan string),
		stopping:     make(chan struct{}),
		pending:      make(map[string]*pendingCommand),
	}, nil
}

// Prober exposes the liveness prober, mainly for health reporting
func (t *FileTransport) Prober() *Prober {
	return t.prober
}

// Submit enqueues cmd and returns its future. timeout <= 0 uses the default.
func (t *FileTransport) Submit(ctx context.Context, cmd Command, timeout time.Duration) *Future {
	id := t.newID()
	fut := newFuture(id)

	if err := cmd.Validate(); err != nil {
		fut.complete(nil, boterrors.NewValidationError(component, cmd.Name(), err.Error()))
		return fut
	}
	if timeout <= 0 {
		timeout = t.cfg.DefaultTimeout
	}

	pc := &pendingCommand{
		id:      id,
		cmd:     cmd,
		future:  fut,
		timeout: timeout,
		state:   stateQueued,
	}

	t.closeMu.RLock()
	defer t.closeMu.RUnlock()

	if t.closed {
		fut.complete(nil, boterrors.NewClosedError(component, cmd.Name()))
		return fut
	}

	select {
	case t.submitCh <- pc:
	case <-t.stopping:
		fut.complete(nil, boterrors.NewClosedError(component, cmd.Name()))
	case <-ctx.Done():
		fut.complete(nil, boterrors.WrapError(ctx.Err(), boterrors.ErrorCategoryClosed, component, cmd.Name()))
	}
	return fut
}

// Run drives the transport until ctx is cancelled. Every pending command is
// rejected with a closed error on exit.
func (t *FileTransport) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return fmt.Errorf("bridge transport already running")
	}

	t.clearStaleFiles()

	proberCtx, cancelProber := context.WithCancel(ctx)
	proberDone := make(chan struct{})
	go func() {
		defer close(proberDone)
		t.prober.Run(proberCtx)
	}()
	defer func() {
		cancelProber()
		<-proberDone
	}()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	t.log.Info("bridge transport started (dir=%s, poll=%s)", t.cfg.Dir, t.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			t.shutdown()
			return nil
		case pc := <-t.submitCh:
			t.enqueue(pc)
			t.dispatchNext()
		case id := <-t.expiredCh:
			t.expire(id)
		case <-ticker.C:
			t.pollOnce()
			t.dispatchNext()
		}
	}
}

// clearStaleFiles drops channel files left behind by a previous process
func (t *FileTransport) clearStaleFiles() {
	if fileExists(t.commandPath) {
		t.log.Warning("withdrawing stale command file from a previous run")
		if err := removeIfExists(t.commandPath); err != nil {
			t.log.LogError("failed to remove stale command file", err)
		}
	}
	if fileExists(t.responsePath) {
		t.log.Warning("discarding stale response file from a previous run")
		if err := removeIfExists(t.responsePath); err != nil {
			t.log.LogError("failed to remove stale response file", err)
		}
	}
}

func (t *FileTransport) enqueue(pc *pendingCommand) {
	pc.enqueuedAt = time.Now()
	t.pending[pc.id] = pc
	t.queue = append(t.queue, pc)

	id := pc.id
	pc.timer = time.AfterFunc(pc.timeout, func() {
		select {
		case t.expiredCh <- id:
		case <-t.stopping:
		}
	})

	monitoring.SetBridgeQueueDepth(len(t.pending))
	t.log.Debug("queued %s %s (timeout %s)", pc.cmd.Name(), pc.id, pc.timeout)
}

// take removes id from the pending map. Only the caller that gets ok=true may
// complete the future.
func (t *FileTransport) take(id string) (*pendingCommand, bool) {
	pc, ok := t.pending[id]
	if !ok {
		return nil, false
	}
	delete(t.pending, id)
	if pc.timer != nil {
		pc.timer.Stop()
	}
	monitoring.SetBridgeQueueDepth(len(t.pending))
	return pc, true
}

func (t *FileTransport) resolve(pc *pendingCommand, resp response) {
	pc.state = stateResolved
	elapsed := time.Since(pc.enqueuedAt)

	if resp.Failed {
		monitoring.RecordBridgeCommand(pc.cmd.Name(), "error", elapsed)
		pc.future.complete(nil, boterrors.NewDispatchError(component, pc.cmd.Name(), resp.Err).
			WithContext("command_id", pc.id))
		return
	}
	monitoring.RecordBridgeCommand(pc.cmd.Name(), "ok", elapsed)
	pc.future.complete(resp.Result, nil)
}

func (t *FileTransport) reject(pc *pendingCommand, outcome string, err error) {
	monitoring.RecordBridgeCommand(pc.cmd.Name(), outcome, time.Since(pc.enqueuedAt))
	pc.future.complete(nil, err)
}

// expire handles a timer firing. A missing entry means the response won.
func (t *FileTransport) expire(id string) {
	pc, ok := t.take(id)
	if !ok {
		return
	}
	wasSent := pc.state == stateSent
	pc.state = stateTimedOut

	t.log.Warning("%s %s timed out after %s", pc.cmd.Name(), pc.id, pc.timeout)
	t.reject(pc, "timeout", boterrors.NewTimeoutError(component, pc.cmd.Name(),
		fmt.Sprintf("no response within %s", pc.timeout)).WithContext("command_id", pc.id))

	// an unconsumed command must not execute after its caller was told it failed
	if wasSent && t.inflight == pc && fileExists(t.commandPath) {
		t.log.Warning("withdrawing unconsumed command %s", pc.id)
		if err := removeIfExists(t.commandPath); err != nil {
			t.log.LogError("failed to withdraw command file", err)
			return
		}
		t.inflight = nil
		t.busySince = time.Time{}
		t.prober.MarkDown()
	}
}

// pollOnce reads at most one response file and settles the matching entry
func (t *FileTransport) pollOnce() {
	data, err := os.ReadFile(t.responsePath)
	if err != nil {
		if !os.IsNotExist(err) {
			t.log.Warning("failed to read response file: %v", err)
		}
		t.malformedTicks = 0
		return
	}

	resp, err := decodeResponse(data)
	if err != nil {
		t.malformedTicks++
		if t.malformedTicks < t.cfg.MalformedRetries {
			return
		}
		t.malformedTicks = 0
		monitoring.RecordBridgeMalformed()
		t.log.Error("discarding malformed response: %v", err)
		if err := removeIfExists(t.responsePath); err != nil {
			t.log.LogError("failed to remove malformed response", err)
		}
		return
	}
	t.malformedTicks = 0

	if resp.ID != "" && resp.ID == t.stuckResponse {
		// already settled; only retry the removal
		if err := t.remove(t.responsePath); err == nil {
			t.stuckResponse = ""
		}
		return
	}

	if err := t.remove(t.responsePath); err != nil {
		t.log.LogError("failed to remove response file", err)
		t.stuckResponse = resp.ID
	} else {
		t.stuckResponse = ""
	}
	t.prober.MarkAlive()

	pc, ok := t.take(resp.ID)
	if !ok {
		t.orphaned++
		monitoring.RecordBridgeOrphan()
		t.log.Warning("orphaned response %s ignored", resp.ID)
		return
	}
	t.resolve(pc, resp)
}

// dispatchNext writes the next queued command once the channel is free
func (t *FileTransport) dispatchNext() {
	now := time.Now()

	if fileExists(t.commandPath) {
		if t.busySince.IsZero() {
			t.busySince = now
		}
		if now.Sub(t.busySince) < t.cfg.ConsumeTimeout {
			return
		}
		t.withdraw()
	}
	t.inflight = nil
	t.busySince = time.Time{}

	if !t.hasQueued() {
		return
	}
	if !t.prober.Connected() {
		t.prober.Trigger()
		return
	}

	for len(t.queue) > 0 {
		pc := t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]

		if _, ok := t.pending[pc.id]; !ok {
			continue
		}

		payload, err := encodeCommand(pc.id, pc.cmd)
		if err != nil {
			t.take(pc.id)
			t.reject(pc, "malformed", boterrors.NewMalformedError(component, pc.cmd.Name(), err))
			continue
		}

		if err := writeAtomic(t.commandPath, payload); err != nil {
			t.take(pc.id)
			t.log.Error("failed to write %s %s: %v", pc.cmd.Name(), pc.id, err)
			t.reject(pc, "io_error", boterrors.NewIOError(component, pc.cmd.Name(), err))
			return
		}

		pc.state = stateSent
		pc.sentAt = now
		t.inflight = pc
		t.busySince = now
		t.log.Debug("sent %s %s", pc.cmd.Name(), pc.id)
		return
	}
}

// withdraw removes a command file the terminal did not consume in time
func (t *FileTransport) withdraw() {
	t.log.Warning("command file not consumed within %s, withdrawing", t.cfg.ConsumeTimeout)
	if err := removeIfExists(t.commandPath); err != nil {
		t.log.LogError("failed to withdraw command file", err)
	}

	if t.inflight != nil {
		if pc, ok := t.take(t.inflight.id); ok {
			t.reject(pc, "io_error", boterrors.NewIOError(component, pc.cmd.Name(),
				errors.New("command not consumed by terminal")).WithContext("command_id", pc.id))
		}
	}
	t.prober.MarkDown()
}

func (t *FileTransport) hasQueued() bool {
	for _, pc := range t.queue {
		if _, ok := t.pending[pc.id]; ok {
			return true
		}
	}
	return false
}

// shutdown rejects everything still pending or waiting in the submit channel
func (t *FileTransport) shutdown() {
	t.stopOnce.Do(func() { close(t.stopping) })

	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()

	for {
		select {
		case pc := <-t.submitCh:
			t.reject(pc, "closed", boterrors.NewClosedError(component, pc.cmd.Name()))
			continue
		default:
		}
		break
	}

	for id := range t.pending {
		if pc, ok := t.take(id); ok {
			t.reject(pc, "closed", boterrors.NewClosedError(component, pc.cmd.Name()))
		}
	}
	t.queue = nil
	t.inflight = nil
	t.log.Info("bridge transport stopped")
}
