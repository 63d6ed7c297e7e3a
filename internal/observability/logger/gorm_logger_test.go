package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/billsync/internal/observability/context"
	"github.com/smallbiznis/billsync/internal/tenantcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func observeGlobal(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func sqlFn(sql string, rows int64) func() (string, int64) {
	return func() (string, int64) { return sql, rows }
}

func TestGormLoggerCarriesRequestScope(t *testing.T) {
	logs := observeGlobal(t)
	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = tenantcontext.WithTenantID(ctx, snowflake.ID(7))

	l := NewGormLogger(DefaultGormLoggerConfig())
	l.Trace(ctx, time.Now(), sqlFn(`INSERT INTO "payments" ("id") VALUES ($1)`, 1), errors.New("connection reset"))

	entries := logs.FilterMessage("gorm.query").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "7", fields["tenant_id"])
	assert.Equal(t, "payments", fields["table"])
	assert.Equal(t, "INSERT", fields["operation"])
	assert.Equal(t, true, fields["ledger_write"])
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestGormLoggerDowngradesExpectedErrors(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(DefaultGormLoggerConfig())

	l.Trace(context.Background(), time.Now(), sqlFn(`INSERT INTO invoices (invoice_number) VALUES ('INV/2026-27/00001')`, 0), gorm.ErrDuplicatedKey)
	l.Trace(context.Background(), time.Now(), sqlFn(`SELECT * FROM tenants WHERE id = 1`, 0), gorm.ErrRecordNotFound)

	assert.Equal(t, 1, logs.FilterMessage("gorm.query.conflict").Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Zero(t, logs.FilterMessage("gorm.query").Len())
}

func TestGormLoggerUsesLockThresholdForRowLocks(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(GormLoggerConfig{
		Level:             gormlogger.Warn,
		SlowThreshold:     10 * time.Millisecond,
		SlowLockThreshold: time.Hour,
	})
	begin := time.Now().Add(-50 * time.Millisecond)

	l.Trace(context.Background(), begin, sqlFn(`SELECT * FROM "invoice_sequences" WHERE scope = 'INV/2026-27/' FOR UPDATE`, 1), nil)
	assert.Zero(t, logs.FilterMessage("gorm.query.slow").Len())

	l.Trace(context.Background(), begin, sqlFn(`SELECT * FROM "plans"`, 3), nil)
	slow := logs.FilterMessage("gorm.query.slow").All()
	require.Len(t, slow, 1)
	assert.Equal(t, "plans", slow[0].ContextMap()["table"])
}

func TestDescribeSQL(t *testing.T) {
	stmt := describeSQL(`(SELECT id FROM "payments" WHERE gateway_payment_id = 'pay_1' LIMIT 1)`)
	assert.Equal(t, "SELECT", stmt.operation)
	assert.Equal(t, "payments", stmt.table)

	stmt = describeSQL(`UPDATE "subscriptions" SET status = 'canceled' WHERE id = 1`)
	assert.Equal(t, "UPDATE", stmt.operation)
	assert.Equal(t, "subscriptions", stmt.table)
	assert.False(t, stmt.locking)

	assert.Equal(t, gormlogger.Silent, ParseGormLevel("silent"))
	assert.Equal(t, gormlogger.Warn, ParseGormLevel("bogus"))
}
