//go:generate go run go.uber.org/mock/mockgen -package mock -destination mock/mock.go github.com/droneguard/droneguard-go/src/pkg/streamprobe Prober
package streamprobe

import (
	"context"
	"errors"
	"fmt"
)

// Prober 探测一个源的流信息
type Prober interface {
	Probe(ctx context.Context, source string) (*StreamDescriptor, error)
}

// ProberFunc 将普通函数适配为 Prober
type ProberFunc func(ctx context.Context, source string) (*StreamDescriptor, error)

func (f ProberFunc) Probe(ctx context.Context, source string) (*StreamDescriptor, error) {
	return f(ctx, source)
}

var (
	// ErrEmptySource 源地址为空
	ErrEmptySource = errors.New("源地址不能为空")
	// ErrUnsupportedSource 当前探测器不支持该源
	ErrUnsupportedSource = errors.New("不支持的源地址")
)

// ProbeError 探测失败时返回的错误，Message 为可展示的错误信息
type ProbeError struct {
	Source  string
	Message string
	Err     error
}

func (e *ProbeError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("probe %s: %s: %v", e.Source, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("probe %s: %s", e.Source, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("probe %s: %v", e.Source, e.Err)
	default:
		return fmt.Sprintf("probe %s: unknown error", e.Source)
	}
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// ErrorMessage 返回错误中可展示的信息：优先 ProbeError.Message，否则为 err 本身的文本
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProbeError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return err.Error()
}
