// Package notify carries user-facing notices raised while a request is handled.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

type Notice struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func Info(title, message string) Notice { return Notice{Level: LevelInfo, Title: title, Message: message} }
func Success(title, message string) Notice { return Notice{Level: LevelSuccess, Title: title, Message: message} }
func Error(title, message string) Notice { return Notice{Level: LevelError, Title: title, Message: message} }

type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Collector accumulates the notices of one request.
type Collector struct {
	mu      sync.Mutex
	notices []Notice
}

func (c *Collector) Add(n Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, n)
}

func (c *Collector) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notice, len(c.notices))
	copy(out, c.notices)
	return out
}

type collectorKey struct{}

func WithCollector(ctx context.Context) (context.Context, *Collector) {
	c := &Collector{}
	return context.WithValue(ctx, collectorKey{}, c), c
}

func CollectorFrom(ctx context.Context) (*Collector, bool) {
	c, ok := ctx.Value(collectorKey{}).(*Collector)
	return c, ok
}

// LogNotifier logs every notice and appends it to the request collector, if any.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, notice Notice) {
	fields := []zap.Field{
		zap.String("level", string(notice.Level)),
		zap.String("title", notice.Title),
		zap.String("message", notice.Message),
	}
	if notice.Level == LevelError {
		n.logger.Warn("Notice raised", fields...)
	} else {
		n.logger.Debug("Notice raised", fields...)
	}

	if c, ok := CollectorFrom(ctx); ok {
		c.Add(notice)
	}
}
