// Package sentry 封装 Sentry 错误上报
// 上报前会清理 token、Authorization 等敏感信息
package sentry

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

var (
	initialized bool
	initMu      sync.RWMutex
)

// 敏感关键字列表
var sensitiveKeywords = []string{
	"token", "password", "passwd", "secret", "auth", "credential",
	"api_key", "apikey", "access_token", "refresh_token", "cookie",
}

var (
	sensitiveURLPattern = regexp.MustCompile(`[?&](token|key|secret|password|auth|access_token|session)=[^&\s]*`)
	bearerPattern       = regexp.MustCompile(`(?i)(bearer)\s+[A-Za-z0-9\-._~+/]+=*`)
	keywordPatterns     = buildKeywordPatterns()
)

func buildKeywordPatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(sensitiveKeywords))
	for _, keyword := range sensitiveKeywords {
		// keyword=value 或 keyword: value
		patterns = append(patterns, regexp.MustCompile(`(?i)(`+regexp.QuoteMeta(keyword)+`)\s*[=:]\s*[^\s,}"\]&\[][^\s,}"\]&]*`))
	}
	return patterns
}

// Init 初始化 Sentry SDK，dsn 为空时不做任何事
func Init(dsn, environment, release, deviceID string) error {
	if dsn == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		BeforeSend:       beforeSendHook,
		SampleRate:       1.0,
	})
	if err != nil {
		return err
	}

	if deviceID != "" {
		sentry.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetUser(sentry.User{ID: deviceID})
		})
	}

	initMu.Lock()
	initialized = true
	initMu.Unlock()
	return nil
}

// IsInitialized 返回 Sentry 是否已初始化
func IsInitialized() bool {
	initMu.RLock()
	defer initMu.RUnlock()
	return initialized
}

// Flush 刷新所有待发送事件（程序退出前调用）
func Flush(timeout time.Duration) {
	if !IsInitialized() {
		return
	}
	sentry.Flush(timeout)
}

// RecoverWithContext 用于 goroutine 的 panic 恢复，需在 goroutine 开头 defer 调用
// 必须先 recover()，再检查 Sentry 状态
func RecoverWithContext(ctx context.Context) {
	err := recover()
	if err == nil {
		return
	}
	if IsInitialized() {
		hub := sentry.GetHubFromContext(ctx)
		if hub == nil {
			hub = sentry.CurrentHub()
		}
		if hub != nil {
			hub.RecoverWithContext(ctx, err)
		}
	}
}

// Recover 用于 goroutine 的 panic 恢复（无 context 版本）
func Recover() {
	err := recover()
	if err == nil {
		return
	}
	if IsInitialized() {
		if hub := sentry.CurrentHub(); hub != nil {
			hub.Recover(err)
		}
	}
}

// CaptureException 上报错误
func CaptureException(err error) {
	if !IsInitialized() || err == nil {
		return
	}
	sentry.CaptureException(err)
}

// CaptureExceptionWithTags 上报错误并附带 tags
func CaptureExceptionWithTags(err error, tags map[string]string) {
	if !IsInitialized() || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// Go 启动一个带 panic 恢复的 goroutine
func Go(f func()) {
	go func() {
		defer Recover()
		f()
	}()
}

// GoWithContext 启动一个带 panic 恢复的 goroutine，f 会收到传入的 ctx
func GoWithContext(ctx context.Context, f func(context.Context)) {
	go func() {
		defer RecoverWithContext(ctx)
		f(ctx)
	}()
}

func beforeSendHook(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if event.Message != "" {
		event.Message = SanitizeString(event.Message)
	}
	for i := range event.Exception {
		if event.Exception[i].Value != "" {
			event.Exception[i].Value = SanitizeString(event.Exception[i].Value)
		}
		if event.Exception[i].Stacktrace != nil {
			for j := range event.Exception[i].Stacktrace.Frames {
				frame := &event.Exception[i].Stacktrace.Frames[j]
				frame.Vars = sanitizeMap(frame.Vars)
			}
		}
	}
	event.Extra = sanitizeMap(event.Extra)
	for key, ctxData := range event.Contexts {
		event.Contexts[key] = sanitizeMap(ctxData)
	}
	event.Tags = sanitizeTags(event.Tags)
	if event.Request != nil {
		event.Request = sanitizeRequest(event.Request)
	}
	return event
}

// SanitizeString 清理字符串中的敏感数据
func SanitizeString(s string) string {
	result := bearerPattern.ReplaceAllString(s, "$1 [REDACTED]")
	result = sensitiveURLPattern.ReplaceAllStringFunc(result, func(m string) string {
		idx := strings.IndexByte(m, '=')
		return m[:idx+1] + "[REDACTED]"
	})
	for _, pattern := range keywordPatterns {
		result = pattern.ReplaceAllString(result, "$1=[REDACTED]")
	}
	return result
}

func sanitizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	result := make(map[string]interface{}, len(m))
	for key, value := range m {
		switch v := value.(type) {
		case string:
			if isSensitiveKey(key) {
				result[key] = "[REDACTED]"
			} else {
				result[key] = SanitizeString(v)
			}
		case map[string]interface{}:
			result[key] = sanitizeMap(v)
		default:
			if isSensitiveKey(key) {
				result[key] = "[REDACTED]"
			} else {
				result[key] = value
			}
		}
	}
	return result
}

func sanitizeTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	result := make(map[string]string, len(tags))
	for key, value := range tags {
		if isSensitiveKey(key) {
			result[key] = "[REDACTED]"
		} else {
			result[key] = SanitizeString(value)
		}
	}
	return result
}

func sanitizeRequest(req *sentry.Request) *sentry.Request {
	if req.URL != "" {
		req.URL = SanitizeString(req.URL)
	}
	if req.QueryString != "" {
		req.QueryString = SanitizeString(req.QueryString)
	}
	for header := range req.Headers {
		switch strings.ToLower(header) {
		case "authorization", "cookie", "x-api-key", "x-auth-token":
			req.Headers[header] = "[REDACTED]"
		}
	}
	if req.Cookies != "" {
		req.Cookies = "[REDACTED]"
	}
	if req.Data != "" {
		req.Data = SanitizeString(req.Data)
	}
	return req
}

func isSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(keyLower, keyword) {
			return true
		}
	}
	return false
}
