package instance

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/droneguard/droneguard-go/src/coordinator"
	"github.com/droneguard/droneguard-go/src/pkg/beaches"
	"github.com/droneguard/droneguard-go/src/pkg/kvstore"
	"github.com/droneguard/droneguard-go/src/pkg/sourcelogger"
)

type key int

// Key 在 context 中保存 *Instance 的 key
const Key key = 0

// Instance 进程级的组件持有者
type Instance struct {
	// WaitGroup 跟踪后台服务协程，退出前等待
	WaitGroup   sync.WaitGroup
	Coordinator *coordinator.Coordinator[string]
	// Store 本地键值存储，初始化失败时为 nil
	Store       *kvstore.Store
	Beaches     *beaches.Client
	ProbeLogger *sourcelogger.SourceLogger
	Registry    *prometheus.Registry

	playerErrors atomic.Uint64
}

// GetInstance 从 context 中取出 Instance，不存在时为 nil
func GetInstance(ctx context.Context) *Instance {
	if s, ok := ctx.Value(Key).(*Instance); ok {
		return s
	}
	return nil
}

// WithInstance 返回带有 inst 的 context
func WithInstance(ctx context.Context, inst *Instance) context.Context {
	return context.WithValue(ctx, Key, inst)
}

// StartupTrigger 启动时使用的触发值
func StartupTrigger() string {
	return ProbeTrigger(0)
}

// ProbeTrigger 由播放错误次数生成触发值
func ProbeTrigger(playerErrors uint64) string {
	return "player-errors-" + strconv.FormatUint(playerErrors, 10)
}

// ReportPlayerError 记录一次播放错误并返回新的触发值
func (inst *Instance) ReportPlayerError() (uint64, string) {
	n := inst.playerErrors.Add(1)
	return n, ProbeTrigger(n)
}

// PlayerErrors 返回已记录的播放错误次数
func (inst *Instance) PlayerErrors() uint64 {
	return inst.playerErrors.Load()
}
