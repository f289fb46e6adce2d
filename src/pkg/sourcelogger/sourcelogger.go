// Package sourcelogger 为被探测的流提供独立的日志缓冲区
// 日志照常输出到全局 logrus，同时保留最近一段文本供 /api/probe/logs 查看
package sourcelogger

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	applog "github.com/droneguard/droneguard-go/src/log"
	dgsentry "github.com/droneguard/droneguard-go/src/pkg/sentry"
)

// DefaultBufferSize 默认日志缓冲区大小（64KB）
const DefaultBufferSize = 64 * 1024

// callbackQueueSize 等待回调的日志行上限，队列满时丢弃新行
const callbackQueueSize = 256

type sourceLoggerKey struct{}

var hookOnce sync.Once

// LogCallback 单行日志回调
type LogCallback func(source string, line string)

// sourceHook 将带有 SourceLogger 上下文的日志写入对应缓冲区
type sourceHook struct{}

func (h *sourceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *sourceHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}
	logger, ok := entry.Context.Value(sourceLoggerKey{}).(*SourceLogger)
	if !ok || logger == nil {
		return nil
	}
	formatted, err := entry.Logger.Formatter.Format(entry)
	if err != nil {
		return nil
	}
	logger.writeToBuffer(formatted)
	return nil
}

func ensureHookRegistered(l *logrus.Logger) {
	hookOnce.Do(func() {
		l.AddHook(&sourceHook{})
	})
}

// SourceLogger 某个流专属的日志记录器，嵌入 logrus.Entry
type SourceLogger struct {
	*logrus.Entry

	mu       sync.RWMutex
	buffer   *ringBuffer
	source   string
	callback LogCallback
	// lines 与 stop 只在设置了回调时存在，由单个 dispatch 协程按顺序消费
	lines chan string
	stop  chan struct{}
}

// New 创建 SourceLogger。bufferSize<=0 时使用默认值
func New(bufferSize int, source string) *SourceLogger {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	logger := &SourceLogger{
		buffer: newRingBuffer(bufferSize),
		source: source,
	}
	ctx := context.WithValue(context.Background(), sourceLoggerKey{}, logger)
	base := applog.GetLogger()
	logger.Entry = base.WithContext(ctx).WithField("source", source)
	ensureHookRegistered(base)
	return logger
}

// SetCallback 设置新日志回调，传 nil 取消。回调在同一个协程里按日志顺序调用
func (l *SourceLogger) SetCallback(cb LogCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callback = cb
	switch {
	case cb != nil && l.lines == nil:
		l.lines = make(chan string, callbackQueueSize)
		l.stop = make(chan struct{})
		lines, stop := l.lines, l.stop
		dgsentry.Go(func() { l.dispatch(lines, stop) })
	case cb == nil && l.lines != nil:
		close(l.stop)
		l.lines = nil
		l.stop = nil
	}
}

func (l *SourceLogger) dispatch(lines <-chan string, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case line := <-lines:
			l.mu.RLock()
			cb := l.callback
			source := l.source
			l.mu.RUnlock()
			if cb != nil {
				cb(source, line)
			}
		}
	}
}

func (l *SourceLogger) writeToBuffer(data []byte) {
	l.mu.Lock()
	_, _ = l.buffer.Write(data)
	lines := l.lines
	l.mu.Unlock()

	if lines == nil {
		return
	}
	select {
	case lines <- strings.TrimSuffix(string(data), "\n"):
	default:
	}
}

// Source 返回流地址
func (l *SourceLogger) Source() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.source
}

// GetLogs 返回缓冲区中的日志文本
func (l *SourceLogger) GetLogs() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.buffer.String()
}

// Reset 清空缓冲区
func (l *SourceLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer.Reset()
}
