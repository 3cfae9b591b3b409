// Command server boots the rebalancer core: it loads configuration and
// settings, opens the history store, and registers the periodic rebalance
// job with the scheduler. The HTTP/CLI surface that exposes manual
// triggers and settings editing to an operator is out of scope here (see
// the package's design notes); this binary demonstrates wiring the
// library-shaped core the way the teacher's cmd/server wires its own
// services and jobs before starting its HTTP layer.
package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/history"
	"github.com/aristath/rebalancer/internal/logging"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/aristath/rebalancer/internal/secrets"
	"github.com/aristath/rebalancer/internal/settings"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: false,
		LogDir: cfg.LogDir,
	})
	if err != nil {
		panic(err)
	}
	log = log.With().Str("component", "main").Logger()
	log.Info().Str("data_dir", cfg.DataDir).Msg("starting rebalancer")

	masterKey, err := secrets.LoadMasterKey(cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load master key")
	}

	settingsStore := settings.NewStore(cfg.DataDir, masterKey, log)
	if _, err := settingsStore.Load(); err != nil {
		log.Fatal().Err(err).Msg("failed to load settings")
	}

	historyStore, err := history.Open(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open history store")
	}
	defer historyStore.Close()

	bus := events.NewBus(log)

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	if err := registerPeriodicJob(sched, settingsStore, historyStore, bus, log); err != nil {
		log.Fatal().Err(err).Msg("failed to register periodic rebalance job")
	}

	log.Info().Msg("rebalancer started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
}

// registerPeriodicJob installs the periodic rebalance job at the interval
// implied by the current settings record. The settings store is re-read
// on every fire inside the job itself, so the interval configured here is
// only revisited when an operator-facing layer calls this again after a
// settings change (out of scope here).
func registerPeriodicJob(sched *scheduler.Scheduler, store *settings.Store, hist *history.Store, bus *events.Bus, log zerolog.Logger) error {
	cfg, err := store.Load()
	if err != nil {
		return err
	}

	interval := scheduler.IntervalFor(cfg)
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	job := scheduler.NewRebalanceJob(store, hist, bus, log)
	return sched.RegisterPeriodic(scheduler.PeriodicJobID, interval, job)
}
