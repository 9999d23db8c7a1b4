package suite

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunPlatforms runs the scenarios once per platform, concurrently. Each
// platform gets its own run ID and report directory. An error creating a
// report cancels the other platforms.
func RunPlatforms(ctx context.Context, factory SessionFactory, cfg Config, platforms []string, scenarios []Scenario) ([]*RunResult, error) {
	if len(platforms) == 0 {
		return nil, fmt.Errorf("no platforms to run")
	}

	results := make([]*RunResult, len(platforms))
	g, gctx := errgroup.WithContext(ctx)
	for i, platform := range platforms {
		c := cfg
		c.Platform = platform
		if cfg.RunID != "" {
			c.RunID = fmt.Sprintf("%s-%s", cfg.RunID, platform)
		}
		g.Go(func() error {
			res, err := NewRunner(factory, c).Run(gctx, scenarios)
			if err != nil {
				return fmt.Errorf("%s: %w", platform, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
