package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Transport delivers commands to the terminal and hands back a future per command.
// Submit never blocks on terminal I/O.
type Transport interface {
	Submit(ctx context.Context, cmd Command, timeout time.Duration) *Future
}

// Future is completed exactly once with the terminal result or an error
type Future struct {
	id     string
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// ID returns the correlation id of the command
func (f *Future) ID() string { return f.id }

// Done is closed once the future has completed
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future completes or ctx is cancelled
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// complete panics if called twice; callers guarantee single completion
func (f *Future) complete(result json.RawMessage, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// CompletedFuture returns an already settled future, for Transport
// implementations that answer synchronously
func CompletedFuture(result json.RawMessage, err error) *Future {
	f := newFuture("")
	f.complete(result, err)
	return f
}

// Call submits cmd, waits for it and decodes the result into out (which may be nil)
func Call(ctx context.Context, t Transport, cmd Command, timeout time.Duration, out interface{}) error {
	result, err := t.Submit(ctx, cmd, timeout).Wait(ctx)
	if err != nil {
		return err
	}
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", cmd.Name(), err)
	}
	return nil
}

// Config holds file locations and timings of the file bridge
type Config struct {
	Dir          string
	CommandFile  string
	ResponseFile string
	PingFile     string
	PongFile     string

	PollInterval   time.Duration // response polling tick
	ConsumeTimeout time.Duration // how long a command file may stay unconsumed
	DefaultTimeout time.Duration // per-command timeout when the caller passes 0
	PingTimeout    time.Duration
	ProbeInterval  time.Duration // heartbeat period of the prober
	RequirePing    bool

	MalformedRetries int // ticks a non-parsing response file is left alone
	QueueSize        int
}

// DefaultConfig returns the default bridge configuration for dir
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		CommandFile:      "command.json",
		ResponseFile:     "response.json",
		PingFile:         "ping.json",
		PongFile:         "pong.json",
		PollInterval:     200 * time.Millisecond,
		ConsumeTimeout:   10 * time.Second,
		DefaultTimeout:   30 * time.Second,
		PingTimeout:      5 * time.Second,
		ProbeInterval:    30 * time.Second,
		RequirePing:      true,
		MalformedRetries: 3,
		QueueSize:        64,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig(c.Dir)
	if c.CommandFile == "" {
		c.CommandFile = def.CommandFile
	}
	if c.ResponseFile == "" {
		c.ResponseFile = def.ResponseFile
	}
	if c.PingFile == "" {
		c.PingFile = def.PingFile
	}
	if c.PongFile == "" {
		c.PongFile = def.PongFile
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ConsumeTimeout <= 0 {
		c.ConsumeTimeout = def.ConsumeTimeout
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = def.DefaultTimeout
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = def.ProbeInterval
	}
	if c.MalformedRetries <= 0 {
		c.MalformedRetries = def.MalformedRetries
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
}
