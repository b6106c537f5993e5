package logger

import (
	"io"
	"log/slog"
)

type Backend string

const (
	BackendStd Backend = "std" // Text в dev
	BackendZap Backend = "zap" // Slog-zap, JSON
)

type Config struct {
	// Метаданные для логгера
	Service    string
	Version    string
	InstanceID string

	// Управление выводом
	Level   slog.Level
	Env     Env
	Backend Backend // default: zap для stage/prod, std для dev
	Debug   bool

	// Куда писать, по умолчанию os.Stdout
	Output io.Writer

	// Zap sampling
	SampleInitial    int
	SampleThereafter int

	AddSource bool
}

// ParseBackend возвращает пустой бекенд для неизвестных значений,
// тогда Init выберет его по окружению.
func ParseBackend(s string) Backend {
	switch Backend(s) {
	case BackendStd, BackendZap:
		return Backend(s)
	default:
		return ""
	}
}
