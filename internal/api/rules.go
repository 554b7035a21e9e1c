package api

import (
	"context"
	"fmt"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/rules"
)

// LoadRules loads the global expression rules from repo into engine and
// returns how many were enabled.
func LoadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) (int, error) {
	configs, err := repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}
	if err := engine.ReloadRules(configs); err != nil {
		return 0, err
	}
	n := 0
	for _, c := range configs {
		if c.Enabled {
			n++
		}
	}
	return n, nil
}
