package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ducminhle1904/signal-bridge/internal/logger"
)

// fakeTerminal plays the terminal side of the file protocol
type fakeTerminal struct {
	cfg         Config
	consume     atomic.Bool
	answerPings atomic.Bool

	mu       sync.Mutex
	handler  func(cmd map[string]interface{}) [][]byte
	received []map[string]interface{}
	outbox   [][]byte
}

func newFakeTerminal(cfg Config) *fakeTerminal {
	f := &fakeTerminal{cfg: cfg}
	f.consume.Store(true)
	f.answerPings.Store(true)
	f.handler = func(cmd map[string]interface{}) [][]byte {
		return [][]byte{resultFor(cmd["id"].(string), map[string]interface{}{"ok": true})}
	}
	return f
}

func resultFor(id string, result interface{}) []byte {
	data, _ := json.Marshal(map[string]interface{}{"id": id, "result": result})
	return data
}

func errorFor(id, msg string) []byte {
	data, _ := json.Marshal(map[string]interface{}{"id": id, "error": msg})
	return data
}

func (f *fakeTerminal) setHandler(h func(cmd map[string]interface{}) [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeTerminal) receivedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.received))
	for _, cmd := range f.received {
		ids = append(ids, cmd["id"].(string))
	}
	return ids
}

func (f *fakeTerminal) path(name string) string {
	return filepath.Join(f.cfg.Dir, name)
}

// push queues a raw response file body, written once the channel is free
func (f *fakeTerminal) push(body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbox = append(f.outbox, body)
}

func (f *fakeTerminal) run(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if f.answerPings.Load() {
			if data, err := os.ReadFile(f.path(f.cfg.PingFile)); err == nil {
				var cmd map[string]interface{}
				if json.Unmarshal(data, &cmd) == nil {
					os.Remove(f.path(f.cfg.PingFile))
					writeAtomic(f.path(f.cfg.PongFile), resultFor(cmd["id"].(string), "pong"))
				}
			}
		}

		if f.consume.Load() {
			if data, err := os.ReadFile(f.path(f.cfg.CommandFile)); err == nil {
				var cmd map[string]interface{}
				if json.Unmarshal(data, &cmd) == nil {
					os.Remove(f.path(f.cfg.CommandFile))
					f.mu.Lock()
					f.received = append(f.received, cmd)
					handler := f.handler
					f.mu.Unlock()
					for _, body := range handler(cmd) {
						f.push(body)
					}
				}
			}
		}

		f.mu.Lock()
		if len(f.outbox) > 0 && !fileExists(f.path(f.cfg.ResponseFile)) {
			writeAtomic(f.path(f.cfg.ResponseFile), f.outbox[0])
			f.outbox = f.outbox[1:]
		}
		f.mu.Unlock()
	}
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig(t.TempDir())
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ConsumeTimeout = 5 * time.Second
	cfg.DefaultTimeout = 2 * time.Second
	cfg.PingTimeout = 500 * time.Millisecond
	cfg.ProbeInterval = time.Minute
	cfg.RequirePing = true
	return cfg
}

// startBridge runs a transport and a fake terminal until the test ends
func startBridge(t *testing.T, mutate func(*Config)) (*FileTransport, *fakeTerminal) {
	t.Helper()

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	tr, err := NewFileTransport(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("NewFileTransport: %v", err)
	}
	term := newFakeTerminal(tr.cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go term.run(ctx)
	go func() {
		defer close(done)
		if err := tr.Run(ctx); err != nil {
			panic(fmt.Sprintf("transport run: %v", err))
		}
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return tr, term
}
