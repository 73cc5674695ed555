package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/quantk/internal/factors"
	"github.com/wonny/quantk/internal/marketdata"
	"github.com/wonny/quantk/pkg/logger"
)

// FactorRefreshJob force-recomputes the factor cache for the latest trading
// date, so interactive calls during the session hit a warm cache.
type FactorRefreshJob struct {
	engine   *factors.Engine
	provider marketdata.Provider
	logger   *logger.Logger
	schedule string
	markets  []string
}

// NewFactorRefreshJob creates a refresh job with the given cron schedule
func NewFactorRefreshJob(engine *factors.Engine, provider marketdata.Provider, schedule string, log *logger.Logger) *FactorRefreshJob {
	return &FactorRefreshJob{
		engine:   engine,
		provider: provider,
		logger:   log,
		schedule: schedule,
		markets:  []string{marketdata.MarketKOSPI, marketdata.MarketKOSDAQ},
	}
}

// Name returns the job name
func (j *FactorRefreshJob) Name() string {
	return "factor_refresh"
}

// Schedule returns the configured cron expression
func (j *FactorRefreshJob) Schedule() string {
	return j.schedule
}

// Run refreshes every catalogued factor per market for the latest session
func (j *FactorRefreshJob) Run(ctx context.Context) error {
	date := marketdata.LatestTradingDate(ctx, j.provider, 7)

	total := 0
	for _, market := range j.markets {
		res, err := j.engine.RefreshCache(ctx, market, date, nil)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", market, err)
		}
		total += res.Count

		j.logger.WithFields(map[string]interface{}{
			"market":    market,
			"date":      date,
			"refreshed": res.Refreshed,
		}).Info("Factor cache refreshed")
	}

	if total == 0 {
		return fmt.Errorf("no factors refreshed for %s", date)
	}
	return nil
}
