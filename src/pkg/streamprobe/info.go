// Package streamprobe 探测直播源的流信息（容器、编码、视频分辨率等）
// 提供基于 ffprobe 的实现，以及直接解析 HTTP-FLV / HLS(TS) 头部的内置实现
package streamprobe

import "fmt"

// KindVideo 视频流类型
const (
	KindVideo = "video"
	KindAudio = "audio"
	KindData  = "data"
)

// StreamEntry 描述源中的一路流
type StreamEntry struct {
	Index     int     `json:"index"`
	Kind      string  `json:"kind"`
	Codec     string  `json:"codec,omitempty"`
	Width     *int    `json:"width,omitempty"`  // 未上报时为 nil
	Height    *int    `json:"height,omitempty"` // 未上报时为 nil
	FrameRate float64 `json:"frame_rate,omitempty"`
	// Extra 其他字段，调用方一般不关心
	Extra map[string]string `json:"extra,omitempty"`
}

// Clone 深拷贝
func (e *StreamEntry) Clone() *StreamEntry {
	if e == nil {
		return nil
	}
	dst := *e
	if e.Width != nil {
		w := *e.Width
		dst.Width = &w
	}
	if e.Height != nil {
		h := *e.Height
		dst.Height = &h
	}
	if e.Extra != nil {
		dst.Extra = make(map[string]string, len(e.Extra))
		for k, v := range e.Extra {
			dst.Extra[k] = v
		}
	}
	return &dst
}

// Resolution 返回形如 "1920x1080" 的字符串，宽高不全时返回空串
func (e *StreamEntry) Resolution() string {
	if e == nil || e.Width == nil || e.Height == nil {
		return ""
	}
	return fmt.Sprintf("%dx%d", *e.Width, *e.Height)
}

// StreamDescriptor 一次探测的结果，Streams 保持源中的顺序
type StreamDescriptor struct {
	Streams    []StreamEntry `json:"streams"`
	FormatName string        `json:"format_name,omitempty"`
	Prober     string        `json:"prober,omitempty"`
}

// FirstOfKind 返回第一个类型完全等于 kind 的流，没有时返回 nil
func (d *StreamDescriptor) FirstOfKind(kind string) *StreamEntry {
	if d == nil {
		return nil
	}
	for i := range d.Streams {
		if d.Streams[i].Kind == kind {
			return &d.Streams[i]
		}
	}
	return nil
}

func intPtr(v int) *int {
	return &v
}
