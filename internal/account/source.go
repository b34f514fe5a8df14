package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/signal-bridge/internal/logger"
	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// DefaultMaxAge is how long a snapshot is served from cache
const DefaultMaxAge = 30 * time.Second

// Terminal is the subset of the terminal client the account source needs
type Terminal interface {
	Balance(ctx context.Context) (types.Balance, error)
	OpenPositions(ctx context.Context) ([]types.Position, error)
	History(ctx context.Context, days int) ([]types.ClosedTrade, error)
}

// Snapshot is a point-in-time view of the account
type Snapshot struct {
	Balance   types.Balance
	TodayPnL  float64 // realized P&L of trades closed today
	Positions []types.Position
	TakenAt   time.Time
}

// Age returns how old the snapshot is at now
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.TakenAt)
}

// OpenLots sums the lots of all open positions
func (s Snapshot) OpenLots() float64 {
	total := 0.0
	for _, p := range s.Positions {
		total += p.Lots
	}
	return total
}

// Source serves cached account snapshots, refreshing them through the terminal
// once they exceed the max age
type Source struct {
	terminal Terminal
	maxAge   time.Duration
	location *time.Location
	now      func() time.Time
	log      *logger.Logger

	mu     sync.Mutex
	cached *Snapshot
}

// NewSource creates a snapshot source. loc decides what "today" means for
// realized P&L; nil means UTC.
func NewSource(terminal Terminal, maxAge time.Duration, loc *time.Location, log *logger.Logger) *Source {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Source{
		terminal: terminal,
		maxAge:   maxAge,
		location: loc,
		now:      time.Now,
		log:      log.With("account"),
	}
}

// SetClock replaces the time source, for tests
func (s *Source) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Snapshot returns the cached snapshot or refreshes it when stale.
// A failed refresh is an error; stale data is never served.
func (s *Source) Snapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.cached.Age(s.now()) < s.maxAge {
		return copySnapshot(*s.cached), nil
	}
	return s.refreshLocked(ctx)
}

// Refresh always queries the terminal
func (s *Source) Refresh(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

// Invalidate drops the cached snapshot, e.g. after an order was placed
func (s *Source) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

func (s *Source) refreshLocked(ctx context.Context) (Snapshot, error) {
	bal, err := s.terminal.Balance(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to fetch balance: %w", err)
	}
	positions, err := s.terminal.OpenPositions(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to fetch open positions: %w", err)
	}
	history, err := s.terminal.History(ctx, 1)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to fetch order history: %w", err)
	}

	now := s.now()
	snap := Snapshot{
		Balance:   bal,
		TodayPnL:  realizedToday(history, now, s.location),
		Positions: positions,
		TakenAt:   now,
	}
	s.cached = &snap
	s.log.Debug("account snapshot: balance=%.2f equity=%.2f free_margin=%.2f today_pnl=%.2f positions=%d",
		bal.Balance, bal.Equity, bal.FreeMargin, snap.TodayPnL, len(positions))
	return copySnapshot(snap), nil
}

// realizedToday sums profits of trades closed on now's calendar day in loc.
// Trades without a close time are counted; the terminal already limits history to one day.
func realizedToday(trades []types.ClosedTrade, now time.Time, loc *time.Location) float64 {
	y, m, d := now.In(loc).Date()
	total := 0.0
	for _, t := range trades {
		if !t.CloseTime.IsZero() {
			ty, tm, td := t.CloseTime.In(loc).Date()
			if ty != y || tm != m || td != d {
				continue
			}
		}
		total += t.Profit
	}
	return total
}

func copySnapshot(s Snapshot) Snapshot {
	s.Positions = append([]types.Position(nil), s.Positions...)
	return s
}
