package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"futures-signal-engine/internal/logging"
)

// PostgresConfig mirrors the teacher's database.Config shape
// (internal/database/db.go), unchanged field-for-field since the spec
// adds no new connection parameters.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Postgres is the pgxpool-backed PostgresMirror implementation.
// Grounded on the teacher's internal/database/db.go (pool
// configuration: MaxConns 25, MinConns 5, health-check period) and
// repository.go (parameterized INSERT via pgx.Row.Scan).
type Postgres struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// NewPostgres opens a connection pool against cfg and verifies
// connectivity.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parsing postgres config: %w", err)
	}
	poolCfg.MaxConns = 25
	poolCfg.MinConns = 5
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("journal: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("journal: pinging postgres: %w", err)
	}
	return &Postgres{pool: pool, log: logging.WithComponent("journal_postgres")}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// EnsureSchema creates the trades table if it does not already exist,
// matching the row shape the CSV/JSON mirrors write.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			trade_id TEXT NOT NULL UNIQUE,
			ts TIMESTAMPTZ NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry DOUBLE PRECISION NOT NULL,
			exit DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL,
			take_profit DOUBLE PRECISION NOT NULL,
			position_usd DOUBLE PRECISION NOT NULL,
			pnl_pct DOUBLE PRECISION NOT NULL,
			pnl_usd DOUBLE PRECISION NOT NULL,
			rr_ratio DOUBLE PRECISION NOT NULL,
			market_type TEXT NOT NULL,
			grade TEXT NOT NULL,
			filters_passed TEXT NOT NULL DEFAULT '',
			score DOUBLE PRECISION NOT NULL,
			reason TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("journal: creating schema: %w", err)
	}
	return nil
}

// InsertEntry implements PostgresMirror.
func (p *Postgres) InsertEntry(ctx context.Context, e Entry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO trades (trade_id, ts, symbol, direction, entry, exit, stop_loss, take_profit,
			position_usd, pnl_pct, pnl_usd, rr_ratio, market_type, grade, filters_passed, score, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		e.TradeID, e.Timestamp, e.Symbol, string(e.Direction), e.Entry, e.Exit, e.StopLoss, e.TakeProfit,
		e.PositionUSD, e.PnLPct, e.PnLUSD, e.RRRatio, string(e.MarketType), e.Grade.String(),
		joinFilters(e.FiltersPassed), e.Score, e.Reason,
	)
	if err != nil {
		return fmt.Errorf("journal: inserting entry: %w", err)
	}
	return nil
}

// HealthCheck implements PostgresMirror.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
