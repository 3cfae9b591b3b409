// Package history persists one row per rebalance cycle to a SQLite
// database and serves reverse-chronological and aggregated queries.
// Grounded on the teacher's internal/database package: WAL journal mode,
// busy_timeout, and connection-pool tuning via a pragma-bearing DSN, pared
// down from its multi-profile design to the single append-mostly workload
// a cycle-history table needs.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed domain.HistoryStore.
type Store struct {
	db *sql.DB
}

// Open creates (if absent) and opens the history database at path,
// applying the same WAL + busy_timeout pragmas as the teacher's standard
// profile, then ensures the schema exists.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: creating data directory: %w", err)
	}

	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(24 * time.Hour)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("history: pinging database: %w", err)
	}

	s := &Store{db: conn}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	status TEXT NOT NULL,
	message TEXT NOT NULL,
	dry_run INTEGER NOT NULL,
	total_fees_usd TEXT,
	total_value_before_usd TEXT,
	total_value_after_usd TEXT,
	trades_json TEXT NOT NULL,
	errors_json TEXT NOT NULL,
	projected_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp DESC);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("history: applying schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type executedTradeRow struct {
	Pair         string          `json:"pair"`
	Asset        string          `json:"asset"`
	Side         domain.Side     `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	EstValueBase decimal.Decimal `json:"est_value_base"`
	EstValueUSD  *decimal.Decimal `json:"est_value_usd,omitempty"`
	FeeCostUSD   decimal.Decimal `json:"fee_cost_usd"`
	Reason       string          `json:"reason"`
	OrderID      string          `json:"order_id,omitempty"`
	Error        string          `json:"error,omitempty"`
}

type projectedBalanceRow struct {
	Quantity    decimal.Decimal  `json:"quantity"`
	ValueInBase decimal.Decimal  `json:"value_in_base"`
	ValueUSD    *decimal.Decimal `json:"value_usd,omitempty"`
}

func decimalPtrString(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseDecimalPtr(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	v, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Append inserts one row for a completed or failed cycle. run_id is the
// primary key; re-appending the same run_id is a caller error (unique
// constraint violation), since cycles only ever write once.
func (s *Store) Append(result domain.RebalanceResult) error {
	tradeRows := make([]executedTradeRow, 0, len(result.Trades))
	for _, t := range result.Trades {
		tradeRows = append(tradeRows, executedTradeRow{
			Pair:         t.Pair,
			Asset:        t.Asset,
			Side:         t.Side,
			Quantity:     t.Quantity,
			EstValueBase: t.EstValueBase,
			EstValueUSD:  t.EstValueUSD,
			FeeCostUSD:   t.FeeCostUSD,
			Reason:       t.Reason,
			OrderID:      t.OrderID,
			Error:        t.Error,
		})
	}
	tradesJSON, err := json.Marshal(tradeRows)
	if err != nil {
		return fmt.Errorf("history: encoding trades: %w", err)
	}

	errorsJSON, err := json.Marshal(result.Errors)
	if err != nil {
		return fmt.Errorf("history: encoding errors: %w", err)
	}

	projected := make(map[string]projectedBalanceRow, len(result.Projected))
	for asset, p := range result.Projected {
		projected[asset] = projectedBalanceRow{
			Quantity:    p.Quantity,
			ValueInBase: p.ValueInBase,
			ValueUSD:    p.ValueUSD,
		}
	}
	projectedJSON, err := json.Marshal(projected)
	if err != nil {
		return fmt.Errorf("history: encoding projected balances: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO runs (run_id, timestamp, status, message, dry_run, total_fees_usd,
			total_value_before_usd, total_value_after_usd, trades_json, errors_json, projected_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID,
		result.Timestamp.UTC().Format(time.RFC3339),
		string(result.Status),
		result.Message,
		boolToInt(result.DryRun),
		decimalPtrString(result.TotalFeesUSD),
		decimalPtrString(result.TotalValueBeforeUSD),
		decimalPtrString(result.TotalValueAfterUSD),
		string(tradesJSON),
		string(errorsJSON),
		string(projectedJSON),
	)
	if err != nil {
		return fmt.Errorf("history: inserting run %s: %w", result.RunID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Latest returns the most recently persisted row, or nil if history is empty.
func (s *Store) Latest() (*domain.RebalanceResult, error) {
	rows, err := s.List(1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// List returns up to limit rows, newest first. limit <= 0 defaults to 100.
func (s *Store) List(limit int) ([]domain.RebalanceResult, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryRuns(
		`SELECT run_id, timestamp, status, message, dry_run, total_fees_usd,
			total_value_before_usd, total_value_after_usd, trades_json, errors_json, projected_json
		 FROM runs ORDER BY timestamp DESC LIMIT ?`, limit)
}

// listAll returns every persisted row, newest first, with no row cap.
// Aggregate uses this rather than List so the time-series view truly spans
// the full run history instead of List's default 100-row page.
func (s *Store) listAll() ([]domain.RebalanceResult, error) {
	return s.queryRuns(
		`SELECT run_id, timestamp, status, message, dry_run, total_fees_usd,
			total_value_before_usd, total_value_after_usd, trades_json, errors_json, projected_json
		 FROM runs ORDER BY timestamp DESC`)
}

func (s *Store) queryRuns(query string, args ...interface{}) ([]domain.RebalanceResult, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: querying runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RebalanceResult
	for rows.Next() {
		result, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

func scanRun(rows *sql.Rows) (domain.RebalanceResult, error) {
	var (
		runID, timestampRaw, status, message string
		dryRunInt                            int
		totalFees, totalBefore, totalAfter   sql.NullString
		tradesJSON, errorsJSON, projectedJSON string
	)
	if err := rows.Scan(&runID, &timestampRaw, &status, &message, &dryRunInt,
		&totalFees, &totalBefore, &totalAfter, &tradesJSON, &errorsJSON, &projectedJSON); err != nil {
		return domain.RebalanceResult{}, fmt.Errorf("history: scanning row: %w", err)
	}

	ts, err := normalizeTimestamp(timestampRaw)
	if err != nil {
		return domain.RebalanceResult{}, err
	}

	var tradeRows []executedTradeRow
	if err := json.Unmarshal([]byte(tradesJSON), &tradeRows); err != nil {
		return domain.RebalanceResult{}, fmt.Errorf("history: decoding trades for %s: %w", runID, err)
	}
	trades := make([]domain.ExecutedTrade, 0, len(tradeRows))
	for _, t := range tradeRows {
		trades = append(trades, domain.ExecutedTrade{
			Trade: domain.Trade{
				Pair:         t.Pair,
				Asset:        t.Asset,
				Side:         t.Side,
				Quantity:     t.Quantity,
				EstValueBase: t.EstValueBase,
				EstValueUSD:  t.EstValueUSD,
				FeeCostUSD:   t.FeeCostUSD,
				Reason:       t.Reason,
			},
			OrderID: t.OrderID,
			Error:   t.Error,
		})
	}

	var errs []string
	if err := json.Unmarshal([]byte(errorsJSON), &errs); err != nil {
		return domain.RebalanceResult{}, fmt.Errorf("history: decoding errors for %s: %w", runID, err)
	}

	var projectedRows map[string]projectedBalanceRow
	if err := json.Unmarshal([]byte(projectedJSON), &projectedRows); err != nil {
		return domain.RebalanceResult{}, fmt.Errorf("history: decoding projected balances for %s: %w", runID, err)
	}
	projected := make(map[string]domain.ProjectedBalance, len(projectedRows))
	for asset, p := range projectedRows {
		projected[asset] = domain.ProjectedBalance{
			Quantity:    p.Quantity,
			ValueInBase: p.ValueInBase,
			ValueUSD:    p.ValueUSD,
		}
	}

	feesUSD, err := parseDecimalPtr(totalFees)
	if err != nil {
		return domain.RebalanceResult{}, err
	}
	beforeUSD, err := parseDecimalPtr(totalBefore)
	if err != nil {
		return domain.RebalanceResult{}, err
	}
	afterUSD, err := parseDecimalPtr(totalAfter)
	if err != nil {
		return domain.RebalanceResult{}, err
	}

	return domain.RebalanceResult{
		RunID:               runID,
		Timestamp:           ts,
		Status:              domain.RunStatus(status),
		Message:             message,
		DryRun:              dryRunInt != 0,
		Trades:              trades,
		Errors:              errs,
		TotalFeesUSD:        feesUSD,
		Projected:           projected,
		TotalValueBeforeUSD: beforeUSD,
		TotalValueAfterUSD:  afterUSD,
	}, nil
}

// normalizeTimestamp parses a stored timestamp and re-stamps it to UTC;
// legacy rows written without a zone are treated as already UTC.
func normalizeTimestamp(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t, err = time.ParseInLocation("2006-01-02T15:04:05", raw, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("history: parsing timestamp %q: %w", raw, err)
		}
	}
	return t.UTC(), nil
}

// Aggregate builds the full time-series view across every persisted run,
// projecting total portfolio USD and per-asset figures from each row's
// projected balances.
func (s *Store) Aggregate() (domain.TimeSeries, error) {
	rows, err := s.listAll()
	if err != nil {
		return domain.TimeSeries{}, err
	}

	points := make([]domain.TimeSeriesPoint, 0, len(rows))
	for _, r := range rows {
		point := domain.TimeSeriesPoint{
			Timestamp: r.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
			PerAsset:  make(map[string]domain.AssetSeriesEntry, len(r.Projected)),
		}

		var total float64
		haveTotal := false
		for asset, p := range r.Projected {
			entry := domain.AssetSeriesEntry{
				ValueInBase: toFloat(p.ValueInBase),
				Quantity:    toFloat(p.Quantity),
			}
			if p.ValueUSD != nil {
				v := toFloat(*p.ValueUSD)
				entry.ValueUSD = &v
				total += v
				haveTotal = true
			}
			point.PerAsset[asset] = entry
		}
		if haveTotal {
			point.TotalValueUSD = &total
		}
		points = append(points, point)
	}

	return domain.TimeSeries{Points: points}, nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
