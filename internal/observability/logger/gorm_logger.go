package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures the GORM zap logger.
type GormLoggerConfig struct {
	Level                gormlogger.LogLevel
	SlowThreshold        time.Duration
	IgnoreRecordNotFound bool
}

// DefaultGormLoggerConfig logs failures and slow statements only.
func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        200 * time.Millisecond,
		IgnoreRecordNotFound: true,
	}
}

// GormLogger routes GORM output through the request-scoped zap logger.
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
	l.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) message(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.cfg.Level < min {
		return
	}
	fields := []zap.Field{zap.String("component", "gorm")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	FromContext(ctx).Log(level, msg, fields...)
}

// Trace logs failed statements at error, slow ones at warn and the rest at debug.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.cfg.Level >= gormlogger.Error && !(l.cfg.IgnoreRecordNotFound && errors.Is(err, gormlogger.ErrRecordNotFound)):
		l.query(ctx, fc, elapsed, err, zapcore.ErrorLevel)
	case l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold && l.cfg.Level >= gormlogger.Warn:
		l.query(ctx, fc, elapsed, nil, zapcore.WarnLevel)
	case l.cfg.Level >= gormlogger.Info:
		l.query(ctx, fc, elapsed, nil, zapcore.DebugLevel)
	}
}

// ParamsFilter drops bound values so amounts and secrets never reach the log.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) query(ctx context.Context, fc func() (string, int64), elapsed time.Duration, err error, level zapcore.Level) {
	sql, rows := fc()
	shape := parseStatement(sql)
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", shape.operation),
		zap.String("table", shape.table),
		zap.Bool("for_update", shape.forUpdate),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if level == zapcore.WarnLevel {
		fields = append(fields, zap.Duration("slow_threshold", l.cfg.SlowThreshold))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	FromContext(ctx).Log(level, "gorm.query", fields...)
}

type statement struct {
	operation string
	table     string
	forUpdate bool
}

// parseStatement extracts the verb, the primary table and whether rows are locked.
func parseStatement(sql string) statement {
	tokens := strings.Fields(strings.TrimSpace(sql))
	out := statement{operation: "UNKNOWN"}

	verbAt := -1
	for i, raw := range tokens {
		tok := strings.ToUpper(strings.Trim(raw, "();"))
		switch tok {
		case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE":
			if verbAt < 0 {
				out.operation = tok
				verbAt = i
			}
		case "FOR":
			if i+1 < len(tokens) && strings.EqualFold(strings.Trim(tokens[i+1], ";"), "UPDATE") {
				out.forUpdate = true
			}
		}
	}
	if verbAt < 0 {
		return out
	}

	// Table follows FROM, INTO or UPDATE depending on the verb.
	marker := "FROM"
	switch out.operation {
	case "INSERT", "MERGE":
		marker = "INTO"
	case "UPDATE":
		if verbAt+1 < len(tokens) {
			out.table = cleanIdentifier(tokens[verbAt+1])
		}
		return out
	}
	for i := verbAt + 1; i+1 < len(tokens); i++ {
		if strings.EqualFold(tokens[i], marker) {
			out.table = cleanIdentifier(tokens[i+1])
			break
		}
	}
	return out
}

func cleanIdentifier(raw string) string {
	raw = strings.Trim(raw, "();,")
	return strings.Trim(raw, "\"`")
}

var _ gormlogger.Interface = (*GormLogger)(nil)
