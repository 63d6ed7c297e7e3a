package logger

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures SQL logging.
type GormLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// SlowLockThreshold applies to SELECT ... FOR UPDATE, which waits on
	// the subscription, payment and invoice sequence row locks.
	SlowLockThreshold time.Duration
}

func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:             gormlogger.Warn,
		SlowThreshold:     200 * time.Millisecond,
		SlowLockThreshold: time.Second,
	}
}

// ParseGormLevel maps silent, error, warn and info; anything else is warn.
func ParseGormLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// ledgerTables hold money and numbering state; writes to them are tagged.
var ledgerTables = map[string]bool{
	"payments":          true,
	"invoices":          true,
	"invoice_sequences": true,
	"subscriptions":     true,
}

var tablePattern = regexp.MustCompile(`(?i)\b(?:from|into|update)\s+["` + "`" + `]?([a-z_][a-z0-9_]*)`)

// GormLogger writes SQL through the request-scoped zap logger so statements
// carry request_id, tenant_id and trace ids.
type GormLogger struct {
	cfg GormLoggerConfig
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{cfg: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Info {
		FromContext(ctx).Info(msg, zap.String("component", "gorm"), zap.Any("data", data))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Warn {
		FromContext(ctx).Warn(msg, zap.String("component", "gorm"), zap.Any("data", data))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Error {
		FromContext(ctx).Error(msg, zap.String("component", "gorm"), zap.Any("data", data))
	}
}

// Trace logs failed, slow and (at info level) every statement. Missing rows
// are lookups, and duplicate keys are how create-if-absent and invoice
// numbering detect races, so neither is logged as an error.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	stmt := describeSQL(sql)

	log := FromContext(ctx)
	fields := stmt.fields(elapsed, rows)
	switch {
	case err != nil && errors.Is(err, gorm.ErrRecordNotFound):
		if l.cfg.Level >= gormlogger.Info {
			log.Debug("gorm.query", fields...)
		}
	case err != nil && errors.Is(err, gorm.ErrDuplicatedKey):
		if l.cfg.Level >= gormlogger.Warn {
			log.Info("gorm.query.conflict", append(fields, zap.Error(err))...)
		}
	case err != nil:
		if l.cfg.Level >= gormlogger.Error {
			log.Error("gorm.query", append(fields, zap.Error(err))...)
		}
	case l.isSlow(stmt, elapsed) && l.cfg.Level >= gormlogger.Warn:
		log.Warn("gorm.query.slow", fields...)
	case l.cfg.Level >= gormlogger.Info:
		log.Debug("gorm.query", fields...)
	}
}

// ParamsFilter drops bound values; they include addresses and card details.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) isSlow(stmt statement, elapsed time.Duration) bool {
	threshold := l.cfg.SlowThreshold
	if stmt.locking && l.cfg.SlowLockThreshold > 0 {
		threshold = l.cfg.SlowLockThreshold
	}
	return threshold > 0 && elapsed > threshold
}

type statement struct {
	sql       string
	operation string
	table     string
	locking   bool
}

func describeSQL(sql string) statement {
	sql = strings.TrimSpace(sql)
	upper := strings.ToUpper(sql)
	stmt := statement{sql: sql, operation: "UNKNOWN", locking: strings.Contains(upper, "FOR UPDATE")}
	for _, token := range strings.Fields(upper) {
		switch token = strings.Trim(token, "();"); token {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			stmt.operation = token
		default:
			continue
		}
		break
	}
	if m := tablePattern.FindStringSubmatch(sql); len(m) == 2 {
		stmt.table = strings.ToLower(m[1])
	}
	return stmt
}

func (s statement) fields(elapsed time.Duration, rows int64) []zap.Field {
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("sql", s.sql),
		zap.String("operation", s.operation),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if s.table != "" {
		fields = append(fields, zap.String("table", s.table))
	}
	if s.locking {
		fields = append(fields, zap.Bool("row_lock", true))
	}
	if ledgerTables[s.table] && s.operation != "SELECT" {
		fields = append(fields, zap.Bool("ledger_write", true))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	return fields
}

var _ gormlogger.Interface = (*GormLogger)(nil)
