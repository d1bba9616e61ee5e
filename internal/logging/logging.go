package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"recon_automation/internal/config"
)

// New builds the process logger: stdout plus an optional file sink.
func New(cfg config.Config) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.LogLevel {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if cfg.LogFormat == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	writeSyncer := zapcore.AddSync(os.Stdout)
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		writeSyncer = zapcore.NewMultiWriteSyncer(zapcore.AddSync(file), zapcore.AddSync(os.Stdout))
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// RunLog is the dedicated plain-text log target of one processing run.
type RunLog struct {
	Path   string
	logger *zap.Logger
	file   *os.File
}

// RunLogName formats <process>_<YYYYMMDD_HHMMSS_mmm>.log.
func RunLogName(process string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%03d.log", process, ts.Format("20060102_150405"), ts.Nanosecond()/int(time.Millisecond))
}

// OpenRunLog creates a new run log in dir. Lines are written verbatim.
func OpenRunLog(dir, process string, ts time.Time) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, RunLogName(process, ts))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(file), zapcore.InfoLevel)
	return &RunLog{Path: path, logger: zap.New(core), file: file}, nil
}

// Info and Error are no-ops on a nil RunLog so a run can proceed when its
// log file could not be opened.
func (r *RunLog) Info(msg string) {
	if r != nil {
		r.logger.Info(msg)
	}
}

func (r *RunLog) Error(msg string) {
	if r != nil {
		r.logger.Error(msg)
	}
}

// Close flushes and closes the file.
func (r *RunLog) Close() error {
	if r == nil {
		return nil
	}
	_ = r.logger.Sync()
	return r.file.Close()
}
