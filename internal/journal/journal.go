// Package journal implements the trade journal of spec.md §6: one CSV
// file per date plus a JSON array mirror, with an optional Postgres
// mirror for durable querying. Grounded on the teacher's
// internal/database/db.go (pgxpool connection-pool setup) and
// repository.go (parameterized INSERT via pgx.Row.Scan), adapted from
// the teacher's `trades` table shape to the journal row spec.md §6
// specifies.
package journal

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"futures-signal-engine/internal/filters"
	"futures-signal-engine/internal/logging"
	"futures-signal-engine/internal/regime"
	"futures-signal-engine/internal/signal"
)

// Entry is one row of the trade journal (spec.md §6's enumerated
// columns). TradeID is generated with a UUIDv4 when the entry is
// recorded, giving the CSV/JSON/Postgres mirrors a common key to join
// on — the teacher's `trades` table uses a SERIAL primary key instead,
// but this journal's file-backed mirrors have no sequence to borrow
// from, so a client-generated ID takes its place.
type Entry struct {
	TradeID       string
	Timestamp     time.Time
	Symbol        string
	Direction     signal.Direction
	Entry         float64
	Exit          float64
	StopLoss      float64
	TakeProfit    float64
	PositionUSD   float64
	PnLPct        float64
	PnLUSD        float64
	RRRatio       float64
	MarketType    regime.MarketType
	Grade         filters.Grade
	FiltersPassed []string
	Score         float64
	Reason        string
}

var csvHeader = []string{
	"trade_id", "timestamp", "symbol", "direction", "entry", "exit", "stop_loss", "take_profit",
	"position_usd", "pnl_pct", "pnl_usd", "rr_ratio", "market_type", "grade",
	"filters_passed", "score", "reason",
}

func (e Entry) csvRow() []string {
	return []string{
		e.TradeID,
		e.Timestamp.Format(time.RFC3339),
		e.Symbol,
		string(e.Direction),
		strconv.FormatFloat(e.Entry, 'f', 8, 64),
		strconv.FormatFloat(e.Exit, 'f', 8, 64),
		strconv.FormatFloat(e.StopLoss, 'f', 8, 64),
		strconv.FormatFloat(e.TakeProfit, 'f', 8, 64),
		strconv.FormatFloat(e.PositionUSD, 'f', 2, 64),
		strconv.FormatFloat(e.PnLPct, 'f', 4, 64),
		strconv.FormatFloat(e.PnLUSD, 'f', 2, 64),
		strconv.FormatFloat(e.RRRatio, 'f', 2, 64),
		string(e.MarketType),
		e.Grade.String(),
		joinFilters(e.FiltersPassed),
		strconv.FormatFloat(e.Score, 'f', 2, 64),
		e.Reason,
	}
}

func joinFilters(filters []string) string {
	out := ""
	for i, f := range filters {
		if i > 0 {
			out += ";"
		}
		out += f
	}
	return out
}

// PostgresMirror is the subset of a journal Postgres backend the
// Journal needs; internal/journal/postgres.go provides the pgxpool
// implementation.
type PostgresMirror interface {
	InsertEntry(ctx context.Context, e Entry) error
	HealthCheck(ctx context.Context) error
}

// Journal writes trade entries to a per-date CSV file, a mirrored JSON
// array, and optionally a Postgres table.
type Journal struct {
	mu      sync.Mutex
	dir     string
	mirror  PostgresMirror
	log     *logging.Logger
}

// NewJournal constructs a Journal writing into dir (created if absent).
// mirror may be nil to disable the Postgres mirror.
func NewJournal(dir string, mirror PostgresMirror) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: creating directory: %w", err)
	}
	return &Journal{dir: dir, mirror: mirror, log: logging.WithComponent("journal")}, nil
}

func (j *Journal) csvPath(date time.Time) string {
	return filepath.Join(j.dir, fmt.Sprintf("trades_%s.csv", date.Format("2006-01-02")))
}

func (j *Journal) jsonPath(date time.Time) string {
	return filepath.Join(j.dir, fmt.Sprintf("trades_%s.json", date.Format("2006-01-02")))
}

// Record appends one trade entry to the CSV and JSON files for its
// date, and to the Postgres mirror if configured. A TradeID is assigned
// here if the caller left it blank.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.TradeID == "" {
		e.TradeID = uuid.New().String()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.appendCSV(e); err != nil {
		return err
	}
	if err := j.appendJSON(e); err != nil {
		return err
	}
	if j.mirror != nil {
		if err := j.mirror.InsertEntry(ctx, e); err != nil {
			j.log.WithError(err).Warn("postgres mirror insert failed")
		}
	}
	return nil
}

func (j *Journal) appendCSV(e Entry) error {
	path := j.csvPath(e.Timestamp)
	isNew := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		isNew = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: opening csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if isNew {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("journal: writing csv header: %w", err)
		}
	}
	if err := w.Write(e.csvRow()); err != nil {
		return fmt.Errorf("journal: writing csv row: %w", err)
	}
	return nil
}

type jsonEntry struct {
	TradeID       string    `json:"trade_id"`
	Timestamp     time.Time `json:"timestamp"`
	Symbol        string    `json:"symbol"`
	Direction     string    `json:"direction"`
	Entry         float64   `json:"entry"`
	Exit          float64   `json:"exit"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	PositionUSD   float64   `json:"position_usd"`
	PnLPct        float64   `json:"pnl_pct"`
	PnLUSD        float64   `json:"pnl_usd"`
	RRRatio       float64   `json:"rr_ratio"`
	MarketType    string    `json:"market_type"`
	Grade         string    `json:"grade"`
	FiltersPassed []string  `json:"filters_passed"`
	Score         float64   `json:"score"`
	Reason        string    `json:"reason"`
}

func toJSONEntry(e Entry) jsonEntry {
	return jsonEntry{
		TradeID:       e.TradeID,
		Timestamp:     e.Timestamp,
		Symbol:        e.Symbol,
		Direction:     string(e.Direction),
		Entry:         e.Entry,
		Exit:          e.Exit,
		StopLoss:      e.StopLoss,
		TakeProfit:    e.TakeProfit,
		PositionUSD:   e.PositionUSD,
		PnLPct:        e.PnLPct,
		PnLUSD:        e.PnLUSD,
		RRRatio:       e.RRRatio,
		MarketType:    string(e.MarketType),
		Grade:         e.Grade.String(),
		FiltersPassed: e.FiltersPassed,
		Score:         e.Score,
		Reason:        e.Reason,
	}
}

func (j *Journal) appendJSON(e Entry) error {
	path := j.jsonPath(e.Timestamp)
	var entries []jsonEntry

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("journal: parsing existing json: %w", err)
		}
	}
	entries = append(entries, toJSONEntry(e))

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: marshaling json: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("journal: writing json: %w", err)
	}
	return nil
}

// Stats summarizes a day's trades, grounded on the Python ancestor's
// utils/profit_calculator.py (win rate, average R, total PnL), which
// the distillation dropped (spec.md §10). ProfitFactor and SharpeRatio
// are the two figures spec.md §3 names for the MetricsCollector that
// the Python ancestor's profit_calculator.py also produced.
type Stats struct {
	TotalTrades  int
	Wins         int
	Losses       int
	WinRatePct   float64
	TotalPnLUSD  float64
	AvgRR        float64
	ProfitFactor float64
	SharpeRatio  float64
}

// ComputeStats reads a date's JSON mirror and summarizes it.
func (j *Journal) ComputeStats(date time.Time) (Stats, error) {
	path := j.jsonPath(date)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, fmt.Errorf("journal: reading json: %w", err)
	}
	var entries []jsonEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return Stats{}, fmt.Errorf("journal: parsing json: %w", err)
	}

	var s Stats
	var rrSum, grossProfit, grossLoss, pctSum float64
	pctReturns := make([]float64, 0, len(entries))
	for _, e := range entries {
		s.TotalTrades++
		s.TotalPnLUSD += e.PnLUSD
		rrSum += e.RRRatio
		pctSum += e.PnLPct
		pctReturns = append(pctReturns, e.PnLPct)
		if e.PnLUSD >= 0 {
			s.Wins++
			grossProfit += e.PnLUSD
		} else {
			s.Losses++
			grossLoss += -e.PnLUSD
		}
	}
	if s.TotalTrades > 0 {
		s.WinRatePct = float64(s.Wins) / float64(s.TotalTrades) * 100
		s.AvgRR = rrSum / float64(s.TotalTrades)
		s.ProfitFactor = profitFactor(grossProfit, grossLoss)
		s.SharpeRatio = sharpeRatio(pctReturns, pctSum/float64(s.TotalTrades))
	}
	return s, nil
}

// profitFactor is gross profit over gross loss. A day with losses but no
// profit is 0; a day with profit but no losses is reported as the gross
// profit itself (an undefined ratio otherwise saturates to +Inf).
func profitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss == 0 {
		return grossProfit
	}
	return grossProfit / grossLoss
}

// sharpeRatio is the mean over the population standard deviation of the
// per-trade percentage returns. A single trade (zero variance) reports 0
// rather than dividing by zero.
func sharpeRatio(returns []float64, mean float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return mean / stddev
}
