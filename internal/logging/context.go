package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID.
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger from context, or Default() if none
// was attached.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context carrying the logger.
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext attaches a fresh trace ID to ctx and returns a logger
// bound to it, so the log lines of one unit of work can be correlated.
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := Default().WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// RiskContext creates a logger context for risk management operations.
func RiskContext(symbol string, riskPct, positionUSD float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":       symbol,
		"risk_percent": riskPct,
		"position_usd": positionUSD,
	}).WithComponent("risk")
}

// SignalContext creates a logger context for signal generation.
func SignalContext(symbol string, direction string, score float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":    symbol,
		"direction": direction,
		"score":     score,
	}).WithComponent("signal")
}

// WebSocketContext creates a logger context for exchange feed operations.
func WebSocketContext(symbol, stream string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol": symbol,
		"stream": stream,
	}).WithComponent("websocket")
}

// DatabaseContext creates a logger context for journal/postgres
// operations.
func DatabaseContext(operation, table string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"table":     table,
	}).WithComponent("database")
}

// TradeContext creates a logger context for trade lifecycle operations.
func TradeContext(symbol, direction string, entry, positionUSD float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":       symbol,
		"direction":    direction,
		"entry":        entry,
		"position_usd": positionUSD,
	}).WithComponent("trade")
}
