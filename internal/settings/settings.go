// Package settings loads and persists the single Settings record: admin
// identity, encrypted exchange/ranking credentials, rebalance strategy,
// and allocation targets. Mirrors the teacher's env-first, file-fallback
// resolution style (internal/config) but for a JSON record instead of a
// directory path.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aristath/rebalancer/internal/secrets"
	"github.com/rs/zerolog"
)

// Strategy selects which trigger condition drives scheduled rebalances.
type Strategy string

const (
	StrategyPeriodic  Strategy = "periodic"
	StrategyThreshold Strategy = "threshold"
)

// Settings is the single persisted configuration record.
type Settings struct {
	AdminUsername     string             `json:"admin_username"`
	AdminPasswordHash string             `json:"admin_password_hash"`
	ExchangeAPIKey    string             `json:"exchange_api_key_ciphertext"`
	ExchangeAPISecret string             `json:"exchange_api_secret_ciphertext"`
	RankingAPIKey     string             `json:"ranking_api_key_ciphertext"`
	Strategy          Strategy           `json:"strategy"`
	PeriodicHours     float64            `json:"periodic_hours"`
	ThresholdPct      float64            `json:"threshold_pct"`
	Allocations       map[string]float64 `json:"allocations"`
	BasePair          string             `json:"base_pair"`
	DryRun            bool               `json:"dry_run"`
	MinTradeValueUSD  float64            `json:"min_trade_value_usd"`
	TradeFeePct       float64            `json:"trade_fee_pct"`
	MaxCMCRank        int                `json:"max_cmc_rank"`
}

const fileName = "settings.json"
const placeholderPasswordHash = "!unset!"

// Store owns the settings file and the master key used to seal/open
// credential fields. Save never encrypts plaintext itself — callers must
// seal credential fields with EncryptCredential before setting them on the
// record they pass to Save, which only validates and writes it.
type Store struct {
	path string
	key  *secrets.MasterKey
	log  zerolog.Logger
}

// NewStore opens a Store rooted at dataDir. It does not load or create the
// file; call Load for that.
func NewStore(dataDir string, key *secrets.MasterKey, log zerolog.Logger) *Store {
	return &Store{
		path: filepath.Join(dataDir, fileName),
		key:  key,
		log:  log.With().Str("component", "settings").Logger(),
	}
}

// Load reads the settings file, creating a default record on first run.
// Parse or validation failures are logged and a default in-memory record
// is returned without touching the file on disk, per spec: a corrupt file
// must not be silently overwritten.
func (s *Store) Load() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		def := defaultSettings()
		if err := s.Save(def); err != nil {
			return Settings{}, fmt.Errorf("settings: creating default record: %w", err)
		}
		return def, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("settings: reading %s: %w", s.path, err)
	}

	var cfg Settings
	if err := json.Unmarshal(data, &cfg); err != nil {
		s.log.Error().Err(err).Msg("settings file is corrupt, using in-memory defaults without overwriting it")
		return defaultSettings(), nil
	}

	if err := Validate(cfg); err != nil {
		s.log.Error().Err(err).Msg("settings file failed validation, using in-memory defaults without overwriting it")
		return defaultSettings(), nil
	}
	return cfg, nil
}

// Save validates cfg and writes it atomically (write to a temp file, then
// rename) so a crash mid-write never corrupts the previous copy. It does
// not encrypt anything: callers must seal credential fields with
// EncryptCredential before they reach Save, which persists them as-is.
func (s *Store) Save(cfg Settings) error {
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("settings: refusing to save invalid record: %w", err)
	}

	payload, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encoding record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings: creating data directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("settings: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("settings: replacing settings file: %w", err)
	}
	return nil
}

// EncryptCredential seals plaintext (an API key or secret) for storage.
func (s *Store) EncryptCredential(plaintext string) (string, error) {
	return s.key.Encrypt(plaintext)
}

// DecryptCredential opens a sealed credential field. A decryption failure
// returns an empty string and a non-nil error; callers in scheduled
// contexts must record a FAILED cycle rather than propagate a panic.
func (s *Store) DecryptCredential(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	plaintext, err := s.key.Decrypt(ciphertext)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to decrypt stored credential")
		return "", err
	}
	return plaintext, nil
}

// SigningKey exposes the JWT/session signing key derived from the master
// key. The out-of-scope auth layer consumes this; settings only provides
// the read contract.
func (s *Store) SigningKey() []byte {
	return s.key.SigningKey("session-signing")
}

func defaultSettings() Settings {
	hash, err := secrets.HashPassword(placeholderPasswordHash)
	if err != nil {
		hash = placeholderPasswordHash
	}
	return Settings{
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
		Strategy:          StrategyPeriodic,
		PeriodicHours:     24,
		ThresholdPct:      5,
		Allocations:       map[string]float64{"USDT": 100},
		BasePair:          "USDT",
		DryRun:            true,
		MinTradeValueUSD:  10,
		TradeFeePct:       0.1,
		MaxCMCRank:        200,
	}
}

// Validate enforces the numeric ranges and enum constraints from the data
// model: allocations summing to 100 (rounded), strategy enum membership,
// and the bounds on periodic_hours/threshold_pct/min_trade_value_usd/
// trade_fee_pct/max_cmc_rank.
func Validate(cfg Settings) error {
	switch cfg.Strategy {
	case StrategyPeriodic, StrategyThreshold:
	default:
		return fmt.Errorf("settings: invalid strategy %q", cfg.Strategy)
	}
	if cfg.PeriodicHours <= 0 {
		return fmt.Errorf("settings: periodic_hours must be > 0, got %v", cfg.PeriodicHours)
	}
	if cfg.ThresholdPct <= 0 || cfg.ThresholdPct >= 100 {
		return fmt.Errorf("settings: threshold_pct must be in (0,100), got %v", cfg.ThresholdPct)
	}
	if cfg.MinTradeValueUSD < 10 {
		return fmt.Errorf("settings: min_trade_value_usd must be >= 10, got %v", cfg.MinTradeValueUSD)
	}
	if cfg.TradeFeePct < 0 || cfg.TradeFeePct > 5 {
		return fmt.Errorf("settings: trade_fee_pct must be in [0,5], got %v", cfg.TradeFeePct)
	}
	if cfg.MaxCMCRank <= 0 || cfg.MaxCMCRank > 5000 {
		return fmt.Errorf("settings: max_cmc_rank must be in (0,5000], got %v", cfg.MaxCMCRank)
	}
	if strings.TrimSpace(cfg.BasePair) == "" {
		return fmt.Errorf("settings: base_pair is required")
	}

	var sum float64
	for _, v := range cfg.Allocations {
		sum += v
	}
	rounded := int(sum + 0.5)
	if rounded != 100 {
		return fmt.Errorf("settings: allocations must sum to 100, got %v", sum)
	}
	return nil
}
