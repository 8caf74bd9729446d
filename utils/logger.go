package utils

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"fanrealms-backend/config"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var Logger = logrus.New()

func init() {
	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetOutput(os.Stdout)
}

// ConfigureLogger applies the level and the optional JSON log file. The file
// receives the same lines as stdout.
func ConfigureLogger(cfg config.LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		log.Printf("unknown log level %q, keeping info", cfg.Level)
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)

	if cfg.File == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		log.Printf("could not create log directory: %v", err)
		return
	}
	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Printf("could not open log file: %v", err)
		return
	}
	Logger.SetOutput(io.MultiWriter(os.Stdout, file))
}

// LogWriter is the gin default writer: every access line becomes a JSON entry.
func LogWriter() io.Writer {
	return &ginLogWriter{}
}

type ginLogWriter struct{}

func (w *ginLogWriter) Write(p []byte) (n int, err error) {
	Logger.WithField("source", "gin").Info(string(p))
	return len(p), nil
}

// GetGormLogger returns a GORM logger writing through Logger.
func GetGormLogger() logger.Interface {
	return &gormLogger{
		LogLevel:      logger.Warn,
		SlowThreshold: 200 * time.Millisecond,
	}
}

type gormLogger struct {
	LogLevel      logger.LogLevel
	SlowThreshold time.Duration
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel < logger.Info {
		return
	}
	Logger.WithFields(logrus.Fields{"source": "gorm", "data": data}).Info(msg)
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel < logger.Warn {
		return
	}
	Logger.WithFields(logrus.Fields{"source": "gorm", "data": data}).Warn(msg)
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel < logger.Error {
		return
	}
	Logger.WithFields(logrus.Fields{"source": "gorm", "data": data}).Error(msg)
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := logrus.Fields{
		"source":  "gorm",
		"elapsed": elapsed.String(),
		"sql":     sql,
		"rows":    rows,
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		fields["error"] = err.Error()
		Logger.WithFields(fields).Error("SQL query error")
	case l.SlowThreshold > 0 && elapsed > l.SlowThreshold:
		Logger.WithFields(fields).Warn("slow SQL query")
	case l.LogLevel >= logger.Info:
		Logger.WithFields(fields).Debug("SQL query executed")
	}
}

func LogSuccess(message string) {
	Logger.WithFields(logrus.Fields{
		"function": getCaller(),
		"status":   "success",
		"source":   "app",
	}).Info(message)
}

func LogInfo(message string) {
	Logger.WithFields(logrus.Fields{
		"function": getCaller(),
		"source":   "app",
	}).Info(message)
}

func LogError(err error, message string) {
	entry := Logger.WithFields(logrus.Fields{
		"function": getCaller(),
		"status":   "error",
		"source":   "app",
	})
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	entry.Error(message)
}

func LogSuccessWithUser(userID interface{}, message string) {
	if userID == nil || userID == "" {
		userID = "0"
	}
	Logger.WithFields(logrus.Fields{
		"function": getCaller(),
		"status":   "success",
		"source":   "app",
		"user_id":  userID,
	}).Info(message)
}

func LogErrorWithUser(userID interface{}, err error, message string) {
	if userID == nil || userID == "" {
		userID = "0"
	}
	entry := Logger.WithFields(logrus.Fields{
		"function": getCaller(),
		"status":   "error",
		"source":   "app",
		"user_id":  userID,
	})
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	entry.Error(message)
}

// LogPaymentDrift records a processor call that succeeded while the local
// write did not. The reconcile worker picks these rows up later.
func LogPaymentDrift(commissionID, paymentIntentID string, err error, message string) {
	entry := Logger.WithFields(logrus.Fields{
		"function":          getCaller(),
		"status":            "error",
		"source":            "app",
		"commission_id":     commissionID,
		"payment_intent_id": paymentIntentID,
		"needs_reconcile":   true,
	})
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	entry.Error(message)
}

func getCaller() string {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	return fn.Name()
}
