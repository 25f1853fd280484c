// Package logger provides a standardized, high-performance logging setup
// for the storage and transaction core, built on top of Zap.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds all the configuration for the logger. It is a plain Go
// struct rather than a file/env-parsed value: the core has no CLI or
// environment-variable surface (see the Configuration surface note in
// SPEC_FULL.md), so callers build Config literals in code.
type Config struct {
	// Level sets the minimum log level (e.g., "debug", "info", "warn", "error").
	Level string
	// Format specifies the log output format ("json" or "console").
	Format string
	// OutputFile specifies the file to write logs to. "stdout" or "stderr"
	// can be used to log to the console.
	OutputFile string
	// Component names the subsystem emitting logs (e.g. "bufferpool",
	// "lockmanager"), attached to every record as a "component" field.
	Component string
}

// New creates a new zap.Logger based on the provided configuration. It's
// designed to be called once per component at wiring time.
func New(config Config) (*zap.Logger, error) {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(config.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	writeSyncer, err := getWriteSyncer(config.OutputFile)
	if err != nil {
		return nil, err
	}

	encoder := getEncoder(config.Format)
	core := zapcore.NewCore(encoder, writeSyncer, logLevel)

	fields := []zap.Field{}
	if config.Component != "" {
		fields = append(fields, zap.String("component", config.Component))
	}

	return zap.New(core, zap.AddCaller()).WithOptions(zap.Fields(fields...)), nil
}

// Nop returns a logger that discards everything, for tests and callers that
// don't want to wire a real sink.
func Nop() *zap.Logger { return zap.NewNop() }

func getEncoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	if strings.ToLower(format) == "console" {
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

func getWriteSyncer(outputFile string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(outputFile) {
	case "stdout", "":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		file, err := os.OpenFile(outputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", outputFile, err)
		}
		return zapcore.AddSync(file), nil
	}
}
