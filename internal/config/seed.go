package config

import (
	"context"
	"fmt"

	"github.com/ducminhle1904/signal-bridge/internal/store"
	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// Seeder is the part of the store that receives configured strategies and risk configs
type Seeder interface {
	SaveStrategy(ctx context.Context, s *types.Strategy) error
	SaveRiskConfig(ctx context.Context, c *types.RiskConfig) error
}

// Seed writes the configured strategies and risk configs into the store.
// Entries with the same name or strategy id are replaced.
func (c *Config) Seed(ctx context.Context, st Seeder) error {
	for i := range c.Strategies {
		s := c.Strategies[i]
		if err := st.SaveStrategy(ctx, &s); err != nil {
			return fmt.Errorf("failed to seed strategy %s: %w", s.Name, err)
		}
	}
	for i := range c.RiskConfigs {
		rc := c.RiskConfigs[i]
		if err := st.SaveRiskConfig(ctx, &rc); err != nil {
			return fmt.Errorf("failed to seed risk config %q: %w", rc.StrategyID, err)
		}
	}
	return nil
}

var _ Seeder = (store.Store)(nil)
