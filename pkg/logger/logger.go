// Package logger 提供基于 slog 的结构化日志初始化，支持 JSON/文本格式与日志切割。
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置。
type Config struct {
	// Level 日志级别：debug, info, warn, error。
	Level string `mapstructure:"level"`
	// Format 输出格式：json 或 text。
	Format string `mapstructure:"format"`
	// Output 输出目标：stdout, file, both。
	Output string `mapstructure:"output"`
	// FilePath 日志文件路径。
	FilePath string `mapstructure:"file_path"`
	// MaxSize 单文件最大体积（MB）。
	MaxSize int `mapstructure:"max_size"`
	// MaxBackups 最大备份文件数。
	MaxBackups int `mapstructure:"max_backups"`
	// MaxAge 最大保留天数。
	MaxAge int `mapstructure:"max_age"`
	// Compress 是否压缩历史文件。
	Compress bool `mapstructure:"compress"`
}

// New 按配置构造 *slog.Logger，service 作为公共字段注入所有日志行。
func New(service string, cfg Config) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer = os.Stdout
	if cfg.Output == "file" || cfg.Output == "both" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, err
		}
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		if cfg.Output == "both" {
			output = io.MultiWriter(os.Stdout, fileWriter)
		} else {
			output = fileWriter
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler).With("service", service), nil
}
