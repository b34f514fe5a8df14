package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	boterrors "github.com/ducminhle1904/signal-bridge/internal/errors"
	"github.com/ducminhle1904/signal-bridge/internal/logger"
	"github.com/ducminhle1904/signal-bridge/internal/monitoring"
)

// Prober checks terminal liveness over the ping/pong file pair. It never
// touches the main command channel.
type Prober struct {
	pingPath     string
	pongPath     string
	timeout      time.Duration
	interval     time.Duration
	pollInterval time.Duration
	required     bool

	connected atomic.Bool
	trigger   chan struct{}
	mu        sync.Mutex // one ping in flight at a time
	newID     func() string
	log       *logger.Logger
}

func newProber(cfg Config, newID func() string, log *logger.Logger) *Prober {
	p := &Prober{
		pingPath:     filepath.Join(cfg.Dir, cfg.PingFile),
		pongPath:     filepath.Join(cfg.Dir, cfg.PongFile),
		timeout:      cfg.PingTimeout,
		interval:     cfg.ProbeInterval,
		pollInterval: cfg.PollInterval,
		required:     cfg.RequirePing,
		trigger:      make(chan struct{}, 1),
		newID:        newID,
		log:          log,
	}
	if !cfg.RequirePing {
		p.connected.Store(true)
	}
	return p
}

// Connected reports the last known liveness
func (p *Prober) Connected() bool {
	return p.connected.Load()
}

// MarkAlive records evidence of liveness, e.g. a response on the main channel
func (p *Prober) MarkAlive() {
	p.setConnected(true)
}

// MarkDown records that the terminal stopped consuming commands
func (p *Prober) MarkDown() {
	if !p.required {
		return
	}
	p.setConnected(false)
}

func (p *Prober) setConnected(v bool) {
	if p.connected.Swap(v) != v {
		monitoring.SetTerminalConnected(v)
		if v {
			p.log.Info("terminal connected")
		} else {
			p.log.Warning("terminal marked disconnected")
		}
	}
}

// Trigger asks the prober loop for an immediate ping without blocking
func (p *Prober) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run pings on every heartbeat tick and on demand until ctx is done
func (p *Prober) Run(ctx context.Context) {
	if !p.required {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.trigger:
		}
		if err := p.Ping(ctx); err != nil && ctx.Err() == nil {
			p.log.Warning("ping failed: %v", err)
		}
	}
}

// Ping writes a ping file and polls for the matching pong within the ping timeout
func (p *Prober) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.newID()
	payload, err := encodeCommand(id, ping{})
	if err != nil {
		return err
	}

	if err := removeIfExists(p.pongPath); err != nil {
		return boterrors.NewIOError("prober", "ping", err)
	}
	if err := writeAtomic(p.pingPath, payload); err != nil {
		p.setConnected(false)
		return boterrors.NewIOError("prober", "ping", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			removeIfExists(p.pingPath)
			p.setConnected(false)
			return boterrors.NewTimeoutError("prober", "ping",
				fmt.Sprintf("no pong within %s", p.timeout))
		case <-ticker.C:
		}

		data, err := os.ReadFile(p.pongPath)
		if err != nil {
			continue
		}
		resp, err := decodeResponse(data)
		if err != nil {
			// terminal may still be writing
			continue
		}
		removeIfExists(p.pongPath)

		if resp.ID != id {
			p.log.Debug("discarding stale pong %s", resp.ID)
			continue
		}
		var result string
		if resp.Failed || json.Unmarshal(resp.Result, &result) != nil || result != "pong" {
			p.setConnected(false)
			return boterrors.NewMalformedError("prober", "ping",
				fmt.Errorf("unexpected pong payload: %s", string(data)))
		}
		p.setConnected(true)
		return nil
	}
}
