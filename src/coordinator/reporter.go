//go:generate go run go.uber.org/mock/mockgen -package coordinator -destination mock_test.go github.com/droneguard/droneguard-go/src/coordinator Reporter
package coordinator

import (
	"context"

	"github.com/sirupsen/logrus"

	dgsentry "github.com/droneguard/droneguard-go/src/pkg/sentry"
)

// Failure 一次失败的探测
type Failure struct {
	Source  string
	CycleID string
	// Message 错误中可展示的信息，没有时为错误本身的文本
	Message string
	Err     error
}

// Reporter 接收探测失败的诊断信息
type Reporter interface {
	ReportProbeFailure(ctx context.Context, f Failure)
}

// ReporterFunc 将普通函数适配为 Reporter
type ReporterFunc func(ctx context.Context, f Failure)

func (fn ReporterFunc) ReportProbeFailure(ctx context.Context, f Failure) {
	fn(ctx, f)
}

// LogReporter 写 Error 日志并上报 Sentry
type LogReporter struct {
	Logger logrus.FieldLogger
	// Sentry 为 false 时只写日志
	Sentry bool
}

func NewLogReporter(logger logrus.FieldLogger, sentry bool) *LogReporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogReporter{Logger: logger, Sentry: sentry}
}

func (r *LogReporter) ReportProbeFailure(ctx context.Context, f Failure) {
	entry := r.Logger.WithFields(logrus.Fields{
		"source": f.Source,
		"cycle":  f.CycleID,
	})
	if f.Err != nil {
		entry = entry.WithError(f.Err)
	}
	entry.Errorf("流探测失败: %s", f.Message)

	if r.Sentry && f.Err != nil {
		dgsentry.CaptureExceptionWithTags(f.Err, map[string]string{
			"component": "stream_probe",
			"cycle":     f.CycleID,
		})
	}
}
