package coordinator

import (
	"github.com/droneguard/droneguard-go/src/consts"
	"github.com/droneguard/droneguard-go/src/pkg/streamprobe"
)

// State 对外发布的三个值
type State struct {
	IsProbing bool `json:"is_probing"`
	Width     int  `json:"width"`
	Height    int  `json:"height"`
}

// DefaultState 尚未有探测结果时的状态：正在探测，960x540
func DefaultState() State {
	return State{
		IsProbing: true,
		Width:     consts.DefaultVideoWidth,
		Height:    consts.DefaultVideoHeight,
	}
}

// Result 一轮探测的结局
type Result string

const (
	ResultNone      Result = ""
	ResultSuccess   Result = "success"
	ResultFailure   Result = "failure"
	ResultCancelled Result = "cancelled"
)

// Phase Idle -> Probing -> {Succeeded, Failed} -> Idle
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseProbing   Phase = "probing"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// Snapshot 某一时刻的完整状态，FirstVideoStream 为拷贝
type Snapshot struct {
	State
	Phase            Phase                    `json:"phase"`
	Source           string                   `json:"source"`
	FirstVideoStream *streamprobe.StreamEntry `json:"first_video_stream,omitempty"`
	LastResult       Result                   `json:"last_result,omitempty"`
	LastError        string                   `json:"last_error,omitempty"`
	CycleID          string                   `json:"cycle_id,omitempty"`
	TriggerCount     int                      `json:"trigger_count"`
}
