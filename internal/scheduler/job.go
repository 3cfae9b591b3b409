package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/clients/exchange"
	"github.com/aristath/rebalancer/internal/clients/ranking"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/executor"
	"github.com/aristath/rebalancer/internal/history"
	"github.com/aristath/rebalancer/internal/settings"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PeriodicJobID is the stable registration id for the periodic rebalance
// job, used to atomically replace the cron entry whenever periodic_hours
// changes.
const PeriodicJobID = "periodic_rebalance"

// RebalanceJob re-reads settings on every fire and runs one cycle through
// a freshly built executor. Building collaborators per fire (rather than
// holding long-lived clients) means credential rotation via the settings
// store takes effect on the very next scheduled run.
type RebalanceJob struct {
	settings *settings.Store
	history  *history.Store
	bus      *events.Bus
	log      zerolog.Logger
}

// NewRebalanceJob builds a RebalanceJob.
func NewRebalanceJob(store *settings.Store, hist *history.Store, bus *events.Bus, log zerolog.Logger) *RebalanceJob {
	return &RebalanceJob{
		settings: store,
		history:  hist,
		bus:      bus,
		log:      log.With().Str("component", "periodic_rebalance_job").Logger(),
	}
}

func (j *RebalanceJob) Name() string { return PeriodicJobID }

// Run loads the current settings, skips the cycle entirely if the active
// strategy is not periodic (a threshold-driven install has no business
// firing on a clock), and otherwise builds scoped clients from the
// decrypted credentials and runs one cycle.
func (j *RebalanceJob) Run(ctx context.Context) error {
	cfg, err := j.settings.Load()
	if err != nil {
		return fmt.Errorf("periodic job: loading settings: %w", err)
	}
	if cfg.Strategy != settings.StrategyPeriodic {
		j.log.Debug().Str("strategy", string(cfg.Strategy)).Msg("skipping fire, strategy is not periodic")
		return nil
	}

	exchangeKey, err := j.settings.DecryptCredential(cfg.ExchangeAPIKey)
	if err != nil {
		return j.recordDecryptFailure(err)
	}
	exchangeSecret, err := j.settings.DecryptCredential(cfg.ExchangeAPISecret)
	if err != nil {
		return j.recordDecryptFailure(err)
	}
	rankingKey, err := j.settings.DecryptCredential(cfg.RankingAPIKey)
	if err != nil {
		return j.recordDecryptFailure(err)
	}

	exchangeClient := exchange.New(exchange.Config{APIKey: exchangeKey, APISecret: exchangeSecret}, j.log)
	rankingClient := ranking.New(ranking.Config{APIKey: rankingKey}, j.log)
	exec := executor.New(exchangeClient, rankingClient, j.history, j.bus, j.log)

	allocations := make(domain.Allocations, len(cfg.Allocations))
	for asset, pct := range cfg.Allocations {
		allocations[asset] = decimal.NewFromFloat(pct)
	}

	execCfg := executor.Settings{
		TargetAllocations: allocations,
		BasePair:          cfg.BasePair,
		DryRun:            cfg.DryRun,
		MinTradeValueUSD:  decimal.NewFromFloat(cfg.MinTradeValueUSD),
		TradeFeePct:       decimal.NewFromFloat(cfg.TradeFeePct),
		MaxCMCRank:        cfg.MaxCMCRank,
	}

	_, err = exec.RunCycle(ctx, execCfg, nil)
	return err
}

// recordDecryptFailure persists a FAILED history row rather than silently
// skipping the fire, so a broken master key shows up in run history
// instead of looking like an idle system.
func (j *RebalanceJob) recordDecryptFailure(cause error) error {
	j.log.Error().Err(cause).Msg("credential decryption failed, recording failed cycle")
	row := domain.RebalanceResult{
		RunID:     uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Status:    domain.StatusFailed,
		Message:   fmt.Sprintf("credential decryption failed: %v", cause),
		DryRun:    true,
	}
	if err := j.history.Append(row); err != nil {
		j.log.Error().Err(err).Msg("failed to persist decrypt-failure row")
	}
	return fmt.Errorf("periodic job: decrypting credentials: %w", cause)
}

// IntervalFor returns the periodic interval implied by cfg, used by the
// caller to (re-)register this job after every settings change.
func IntervalFor(cfg settings.Settings) time.Duration {
	return time.Duration(cfg.PeriodicHours * float64(time.Hour))
}
