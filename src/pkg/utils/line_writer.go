package utils

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// MaxLineLength 没有换行符时，累积超过此长度就强制输出
const MaxLineLength = 4096

// LineWriter 把写入的数据按行切分后交给 handler，空行被忽略
type LineWriter struct {
	handler func(line string)

	mu  sync.Mutex
	buf []byte
}

func NewLineWriter(handler func(line string)) *LineWriter {
	return &LineWriter{handler: handler}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	for len(w.buf) > MaxLineLength {
		cut := utf8Boundary(w.buf[:MaxLineLength])
		w.emit(w.buf[:cut])
		w.buf = w.buf[cut:]
	}
	if len(w.buf) == 0 {
		w.buf = nil
	}
	return len(p), nil
}

// Flush 输出缓冲中剩余的不完整行
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *LineWriter) emit(b []byte) {
	line := strings.TrimRight(string(b), "\r")
	if strings.TrimSpace(line) == "" || w.handler == nil {
		return
	}
	w.handler(line)
}

// utf8Boundary 返回不截断多字节字符的切分位置
func utf8Boundary(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		if i == 0 {
			return len(b)
		}
		return i
	}
	return len(b)
}

// NewLoggerWriter 把外部进程的输出逐行写入 logger，
// 根据关键字选择 Error/Warn 级别，其余为 Debug
func NewLoggerWriter(logger logrus.FieldLogger) *LineWriter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return NewLineWriter(func(line string) {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "error") || strings.Contains(lower, "fatal"):
			logger.Error(line)
		case strings.Contains(lower, "warn"):
			logger.Warn(line)
		default:
			logger.Debug(line)
		}
	})
}
