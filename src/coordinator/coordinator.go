// Package coordinator 负责“探测直播源并发布视频宽高”的生命周期
//
// 每当触发值变化就开始新一轮探测：同步置 IsProbing=true，异步调用 Prober，
// 成功时取第一路视频流的宽高（字段存在才覆盖），失败时交给 Reporter 且保留原宽高，
// 最后总是置 IsProbing=false。
//
// 新的触发会取消仍在进行的上一轮，上一轮的结果不会再写入状态。
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	dgsentry "github.com/droneguard/droneguard-go/src/pkg/sentry"
	"github.com/droneguard/droneguard-go/src/pkg/streamprobe"
)

// DefaultProbeTimeout 单轮探测的默认超时
const DefaultProbeTimeout = 15 * time.Second

// ErrProbeTimeout 探测超时
var ErrProbeTimeout = errors.New("探测超时")

// Options 构造 Coordinator 所需的参数
type Options struct {
	// Source 源地址，生命周期内不变
	Source string
	Prober streamprobe.Prober
	// Reporter 为 nil 时使用 LogReporter
	Reporter Reporter
	// Timeout <0 表示不限制，0 使用 DefaultProbeTimeout
	Timeout time.Duration
	Logger  logrus.FieldLogger
	Metrics *Metrics
}

// Coordinator 探测协调器，T 为触发值类型
type Coordinator[T comparable] struct {
	ctx      context.Context
	source   string
	prober   streamprobe.Prober
	reporter Reporter
	timeout  time.Duration
	logger   logrus.FieldLogger
	metrics  *Metrics

	mu           sync.RWMutex
	state        State
	firstVideo   *streamprobe.StreamEntry
	lastTrigger  T
	hasTrigger   bool
	generation   uint64
	cancel       context.CancelFunc
	closed       bool
	lastResult   Result
	lastError    string
	cycleID      string
	triggerCount int

	subs    map[uint64]chan State
	nextSub uint64

	wg sync.WaitGroup
}

// New 创建协调器。ctx 结束时正在进行的探测会被取消
func New[T comparable](ctx context.Context, opts Options) *Coordinator[T] {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = NewLogReporter(logger, false)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultProbeTimeout
	}
	c := &Coordinator[T]{
		ctx:      ctx,
		source:   opts.Source,
		prober:   opts.Prober,
		reporter: reporter,
		timeout:  timeout,
		logger:   logger,
		metrics:  opts.Metrics,
		state:    DefaultState(),
		subs:     make(map[uint64]chan State),
	}
	c.metrics.observeState(c.state)
	return c
}

// Source 返回源地址
func (c *Coordinator[T]) Source() string {
	return c.source
}

// OnTriggerChanged 通知触发值可能已变化。值与上一次相同时不做任何事并返回 false；
// 否则取消进行中的探测，开始新一轮并返回 true。
func (c *Coordinator[T]) OnTriggerChanged(trigger T) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.hasTrigger && c.lastTrigger == trigger {
		c.mu.Unlock()
		return false
	}
	c.lastTrigger = trigger
	c.hasTrigger = true
	c.triggerCount++

	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	gen := c.generation
	cycleCtx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel
	cycleID := newCycleID()
	c.cycleID = cycleID

	c.state.IsProbing = true
	c.publishLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.WithField("cycle", cycleID).Debugf("开始探测 %s", c.source)
	dgsentry.GoWithContext(cycleCtx, func(ctx context.Context) {
		defer c.wg.Done()
		c.runCycle(ctx, cancel, gen, cycleID)
	})
	return true
}

func (c *Coordinator[T]) runCycle(ctx context.Context, cancel context.CancelFunc, gen uint64, cycleID string) {
	defer cancel()
	logger := c.logger.WithField("cycle", cycleID)
	start := time.Now()
	result := ResultFailure
	var errMsg string
	defer func() {
		c.finish(gen, result, errMsg)
		c.metrics.observeCycle(result, time.Since(start))
	}()

	probeCtx := ctx
	if c.timeout > 0 {
		var cancelTimeout context.CancelFunc
		probeCtx, cancelTimeout = context.WithTimeout(ctx, c.timeout)
		defer cancelTimeout()
	}

	desc, err := c.probe(probeCtx)
	if ctx.Err() != nil {
		// 被新的触发或 Close 取消
		result = ResultCancelled
		logger.Debug("探测已取消")
		return
	}
	if err != nil {
		if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
			err = &streamprobe.ProbeError{
				Source:  c.source,
				Message: fmt.Sprintf("探测超时 (%s)", c.timeout),
				Err:     fmt.Errorf("%w: %v", ErrProbeTimeout, err),
			}
		}
		errMsg = streamprobe.ErrorMessage(err)
		c.reporter.ReportProbeFailure(ctx, Failure{
			Source:  c.source,
			CycleID: cycleID,
			Message: errMsg,
			Err:     err,
		})
		return
	}

	if c.apply(gen, desc) {
		result = ResultSuccess
		logger.Debug("探测完成")
	} else {
		result = ResultCancelled
	}
}

func (c *Coordinator[T]) probe(ctx context.Context) (*streamprobe.StreamDescriptor, error) {
	if c.prober == nil {
		return nil, &streamprobe.ProbeError{Source: c.source, Message: "未配置探测器"}
	}
	return c.prober.Probe(ctx, c.source)
}

// apply 取第一路视频流写入状态；gen 已过期时不写并返回 false
func (c *Coordinator[T]) apply(gen uint64, desc *streamprobe.StreamDescriptor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	entry := desc.FirstOfKind(streamprobe.KindVideo)
	if entry == nil {
		return true
	}
	c.firstVideo = entry.Clone()
	if entry.Width != nil {
		c.state.Width = *entry.Width
	}
	if entry.Height != nil {
		c.state.Height = *entry.Height
	}
	return true
}

// finish 结束一轮探测，只有最新一轮才会把 IsProbing 置为 false
func (c *Coordinator[T]) finish(gen uint64, result Result, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.state.IsProbing = false
	c.lastResult = result
	c.lastError = errMsg
	c.cancel = nil
	c.publishLocked()
}

// State 返回当前发布的三个值
func (c *Coordinator[T]) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// FirstVideoStream 返回最近一次选中的视频流的拷贝，没有时为 nil
func (c *Coordinator[T]) FirstVideoStream() *streamprobe.StreamEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.firstVideo.Clone()
}

// Snapshot 返回完整状态
func (c *Coordinator[T]) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	phase := PhaseIdle
	switch {
	case c.state.IsProbing:
		phase = PhaseProbing
	case c.lastResult == ResultSuccess:
		phase = PhaseSucceeded
	case c.lastResult == ResultFailure:
		phase = PhaseFailed
	}
	return Snapshot{
		State:            c.state,
		Phase:            phase,
		Source:           c.source,
		FirstVideoStream: c.firstVideo.Clone(),
		LastResult:       c.lastResult,
		LastError:        c.lastError,
		CycleID:          c.cycleID,
		TriggerCount:     c.triggerCount,
	}
}

// Subscribe 订阅状态变化。channel 只保留最新的一个状态，
// 订阅时会先收到当前状态。Close 后 channel 会被关闭
func (c *Coordinator[T]) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.state

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

func (c *Coordinator[T]) publishLocked() {
	s := c.state
	c.metrics.observeState(s)
	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
			// 丢弃旧值，只保留最新状态
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Wait 等待所有已开始的探测结束
func (c *Coordinator[T]) Wait() {
	c.wg.Wait()
}

// Close 取消进行中的探测并等待其结束，之后的触发会被忽略
func (c *Coordinator[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

func newCycleID() string {
	return uuid.Must(uuid.NewV4()).String()
}
