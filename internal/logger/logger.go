// 包 logger：统一初始化与获取日志器；通过环境变量控制日志级别与输出格式，各组件通过 Component 派生带来源标记的子日志器
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
)

// Setup：初始化默认日志器
// 背景：集中化日志配置，地图服务与命令行工具共用同一套级别/格式约定
// 约束：输出目标固定为标准错误；LOG_LEVEL 取值 debug/info/warn/error，LOG_FORMAT=json 时输出 JSON
func Setup() *slog.Logger {
	l := New(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	SetDefault(l)
	return l
}

// New：按级别与格式构造日志器，不修改默认日志器
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// ParseLevel：解析级别文本，未知取值回退到 info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// SetDefault：替换默认日志器（测试中可注入丢弃型日志器）
func SetDefault(l *slog.Logger) {
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

// L：获取默认日志器；若未初始化则回退到 Setup
func L() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil {
		return Setup()
	}
	return l
}

// Component：派生带 component 属性的子日志器
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

// Discard：丢弃全部输出的日志器
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
