// Package executor orchestrates one end-to-end rebalance cycle: fetch
// balances/prices/rules/eligibility, invoke the pure engine, execute or
// simulate the resulting trades, and persist exactly one history row.
// Grounded on the teacher's Job/Scheduler split (internal/scheduler) for
// the single-entry-point shape, with the single-flight lock implemented
// as a sync/atomic.Bool try-acquire rather than golang.org/x/sync/singleflight:
// singleflight shares one in-flight result across concurrent identical
// callers, but this cycle's second caller must fail fast with Conflict,
// never wait for or share the first caller's result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/engine"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/pricing"
	"github.com/aristath/rebalancer/internal/quantity"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrConflict is returned when a cycle is requested while another is
// already in flight.
var ErrConflict = errors.New("executor: a rebalance cycle is already running")

// Settings is the subset of configuration the executor needs per cycle.
// Decoupling from the settings package keeps the executor's dependency
// surface to capability interfaces, per the corpus's DI convention.
type Settings struct {
	TargetAllocations domain.Allocations
	BasePair          string
	DryRun            bool
	MinTradeValueUSD  decimal.Decimal
	TradeFeePct       decimal.Decimal
	MaxCMCRank        int
}

// Executor drives one cycle at a time across the process lifetime.
type Executor struct {
	exchange domain.ExchangeClient
	ranking  domain.RankingClient
	history  domain.HistoryStore
	bus      *events.Bus
	log      zerolog.Logger

	running atomic.Bool
}

// New builds an Executor over the given collaborators.
func New(exchange domain.ExchangeClient, ranking domain.RankingClient, history domain.HistoryStore, bus *events.Bus, log zerolog.Logger) *Executor {
	return &Executor{
		exchange: exchange,
		ranking:  ranking,
		history:  history,
		bus:      bus,
		log:      log.With().Str("component", "executor").Logger(),
	}
}

// RunCycle executes one rebalance cycle. dryRunOverride, if non-nil,
// forces dry-run on or off for this cycle only; otherwise cfg.DryRun
// applies. At most one cycle runs at a time across the process; a second
// concurrent caller receives ErrConflict immediately.
func (e *Executor) RunCycle(ctx context.Context, cfg Settings, dryRunOverride *bool) (result domain.RebalanceResult, err error) {
	if !e.running.CompareAndSwap(false, true) {
		return domain.RebalanceResult{}, ErrConflict
	}
	defer e.running.Store(false)

	runID := uuid.New().String()
	startedAt := time.Now().UTC()
	dryRun := cfg.DryRun
	if dryRunOverride != nil {
		dryRun = *dryRunOverride
	}

	e.bus.Emit(events.CycleStarted, runID, map[string]interface{}{"dry_run": dryRun})

	defer func() {
		if p := recover(); p != nil {
			failed := domain.RebalanceResult{
				RunID:     runID,
				Timestamp: startedAt,
				Status:    domain.StatusFailed,
				Message:   fmt.Sprintf("unexpected error: %v", p),
				DryRun:    true,
			}
			if appendErr := e.history.Append(failed); appendErr != nil {
				e.log.Error().Err(appendErr).Str("run_id", runID).Msg("failed to persist FAILED row after panic")
			}
			e.bus.Emit(events.CycleCompleted, runID, map[string]interface{}{"status": string(domain.StatusFailed)})
			panic(p)
		}
	}()

	result, err = e.runCycle(ctx, runID, startedAt, cfg, dryRun)
	if err != nil {
		failed := domain.RebalanceResult{
			RunID:     runID,
			Timestamp: startedAt,
			Status:    domain.StatusFailed,
			Message:   err.Error(),
			DryRun:    dryRun,
		}
		if appendErr := e.history.Append(failed); appendErr != nil {
			e.log.Error().Err(appendErr).Str("run_id", runID).Msg("failed to persist FAILED row")
		}
		e.bus.Emit(events.CycleCompleted, runID, map[string]interface{}{"status": string(domain.StatusFailed)})
		return failed, err
	}

	if appendErr := e.history.Append(result); appendErr != nil {
		e.log.Error().Err(appendErr).Str("run_id", runID).Msg("failed to persist history row")
		return result, appendErr
	}
	e.bus.Emit(events.CycleCompleted, runID, map[string]interface{}{"status": string(result.Status)})
	return result, nil
}

func (e *Executor) runCycle(ctx context.Context, runID string, startedAt time.Time, cfg Settings, dryRun bool) (domain.RebalanceResult, error) {
	base := strings.ToUpper(cfg.BasePair)

	balances, err := e.exchange.Balances(ctx)
	if err != nil {
		return domain.RebalanceResult{}, fmt.Errorf("fetching balances: %w", err)
	}
	prices, err := e.exchange.AllPrices(ctx)
	if err != nil {
		return domain.RebalanceResult{}, fmt.Errorf("fetching prices: %w", err)
	}
	eligible, err := e.ranking.TopSymbols(ctx, cfg.MaxCMCRank, "USD")
	if err != nil {
		return domain.RebalanceResult{}, fmt.Errorf("fetching eligible set: %w", err)
	}

	symbols := candidatePairs(balances, cfg.TargetAllocations, base)
	rules, err := e.exchange.ExchangeInfo(ctx, symbols)
	if err != nil {
		return domain.RebalanceResult{}, fmt.Errorf("fetching exchange info: %w", err)
	}

	valueBeforeUSD := totalValueUSD(balances, prices, base)

	plan, err := engine.Plan(engine.Input{
		Balances:          balances,
		Prices:            prices,
		ExchangeRules:     rules,
		TargetAllocations: cfg.TargetAllocations,
		Eligible:          eligible,
		BasePair:          base,
		MinTradeValueUSD:  cfg.MinTradeValueUSD,
		TradeFeePct:       cfg.TradeFeePct,
	})
	if err != nil {
		return domain.RebalanceResult{}, fmt.Errorf("planning: %w", err)
	}

	if len(plan.Trades) == 0 {
		return domain.RebalanceResult{
			RunID:               runID,
			Timestamp:           startedAt,
			Status:              domain.StatusSuccess,
			Message:             "no trades required, allocations within threshold",
			DryRun:              dryRun,
			Projected:           plan.Projected,
			TotalFeesUSD:        plan.TotalFeesUSD,
			TotalValueBeforeUSD: valueBeforeUSD,
			TotalValueAfterUSD:  valueBeforeUSD,
		}, nil
	}

	executed, execErrors := e.executeTrades(ctx, plan.Trades, dryRun)

	status := resolveStatus(dryRun, len(executed), len(execErrors))
	message := fmt.Sprintf("%d trade(s) planned, %d failed", len(executed), len(execErrors))

	return domain.RebalanceResult{
		RunID:               runID,
		Timestamp:           startedAt,
		Status:              status,
		Message:             message,
		DryRun:              dryRun,
		Trades:              executed,
		Errors:              execErrors,
		TotalFeesUSD:        plan.TotalFeesUSD,
		Projected:           plan.Projected,
		TotalValueBeforeUSD: valueBeforeUSD,
		TotalValueAfterUSD:  totalProjectedValueUSD(plan.Projected),
	}, nil
}

// executeTrades runs every SELL before any BUY so quote currency is freed
// before it is spent, per the executor's ordering contract. Per-trade
// failures are collected, never aborting remaining trades. A dry run never
// calls the exchange at all — it records each planned trade as simulated,
// matching the glossary's definition of a dry run as a cycle that never
// reaches the order-placement endpoint.
func (e *Executor) executeTrades(ctx context.Context, trades []domain.Trade, dryRun bool) ([]domain.ExecutedTrade, []string) {
	ordered := make([]domain.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Side == domain.Sell && ordered[j].Side != domain.Sell
	})

	executed := make([]domain.ExecutedTrade, 0, len(ordered))
	var errs []string

	for _, t := range ordered {
		if dryRun {
			executed = append(executed, domain.ExecutedTrade{Trade: t})
			continue
		}

		orderID, err := e.exchange.CreateOrder(ctx, t.Pair, t.Side, quantity.FormatForAPI(t.Quantity), false)
		et := domain.ExecutedTrade{Trade: t, OrderID: orderID}
		if err != nil {
			msg := fmt.Sprintf("%s %s %s: %v", t.Side, t.Quantity, t.Pair, err)
			et.Error = msg
			errs = append(errs, msg)
			e.log.Warn().Str("pair", t.Pair).Str("side", string(t.Side)).Err(err).Msg("trade execution failed")
		}
		executed = append(executed, et)
	}
	return executed, errs
}

func resolveStatus(dryRun bool, executedCount, errCount int) domain.RunStatus {
	if dryRun {
		return domain.StatusDryRun
	}
	if errCount == 0 {
		return domain.StatusSuccess
	}
	if errCount >= executedCount {
		return domain.StatusFailed
	}
	return domain.StatusPartialSuccess
}

// candidatePairs builds the pair list (asset+base) the exchange-info call
// needs: every held asset and every targeted asset, excluding the base
// pair itself.
func candidatePairs(balances domain.Balances, targets domain.Allocations, base string) []string {
	seen := make(map[string]struct{})
	for asset := range balances {
		asset = strings.ToUpper(asset)
		if asset != base {
			seen[asset] = struct{}{}
		}
	}
	for asset := range targets {
		asset = strings.ToUpper(asset)
		if asset != base {
			seen[asset] = struct{}{}
		}
	}
	pairs := make([]string, 0, len(seen))
	for asset := range seen {
		pairs = append(pairs, asset+base)
	}
	sort.Strings(pairs)
	return pairs
}

// totalValueUSD sums quantity*asset_base_value*base_to_usd over every
// held balance, skipping assets whose price cannot be resolved.
func totalValueUSD(balances domain.Balances, prices domain.Prices, base string) *decimal.Decimal {
	baseUSD, ok := pricing.BaseToUSD(prices, base)
	if !ok {
		return nil
	}
	total := decimal.Zero
	any := false
	for asset, qty := range balances {
		if strings.ToUpper(asset) == base {
			total = total.Add(qty.Mul(baseUSD))
			any = true
			continue
		}
		rate, ok := pricing.AssetBaseValue(prices, asset, base)
		if !ok {
			continue
		}
		total = total.Add(qty.Mul(rate).Mul(baseUSD))
		any = true
	}
	if !any {
		return nil
	}
	return &total
}

func totalProjectedValueUSD(projected map[string]domain.ProjectedBalance) *decimal.Decimal {
	total := decimal.Zero
	any := false
	for _, p := range projected {
		if p.ValueUSD == nil {
			continue
		}
		total = total.Add(*p.ValueUSD)
		any = true
	}
	if !any {
		return nil
	}
	return &total
}
