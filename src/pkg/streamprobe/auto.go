package streamprobe

import (
	"context"
	"net/url"
	"strings"
)

// Auto 根据源地址选择探测器：http(s) 的 .flv / .m3u8 使用内置解析，其余交给 ffprobe
type Auto struct {
	FLV     Prober
	HLS     Prober
	FFprobe Prober
}

// Select 返回处理该源的探测器
func (a *Auto) Select(source string) Prober {
	switch DetectFormat(source) {
	case FormatFLV:
		if a.FLV != nil {
			return a.FLV
		}
	case FormatHLS:
		if a.HLS != nil {
			return a.HLS
		}
	}
	return a.FFprobe
}

func (a *Auto) Probe(ctx context.Context, source string) (*StreamDescriptor, error) {
	p := a.Select(source)
	if p == nil {
		return nil, &ProbeError{Source: source, Err: ErrUnsupportedSource}
	}
	return p.Probe(ctx, source)
}

// NativeOnly 只使用内置解析器
type NativeOnly struct {
	FLV Prober
	HLS Prober
}

func (n *NativeOnly) Probe(ctx context.Context, source string) (*StreamDescriptor, error) {
	switch DetectFormat(source) {
	case FormatFLV:
		return n.FLV.Probe(ctx, source)
	case FormatHLS:
		return n.HLS.Probe(ctx, source)
	default:
		return nil, &ProbeError{Source: source, Message: "内置解析器只支持 http(s) 的 FLV / HLS 流", Err: ErrUnsupportedSource}
	}
}

// Format 源的封装格式
type Format int

const (
	FormatOther Format = iota
	FormatFLV
	FormatHLS
)

// DetectFormat 依据 URL 判断是否为 HTTP-FLV 或 HLS
func DetectFormat(source string) Format {
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return FormatOther
	}
	p := strings.ToLower(u.Path)
	switch {
	case strings.HasSuffix(p, ".flv"):
		return FormatFLV
	case strings.HasSuffix(p, ".m3u8"), strings.HasSuffix(p, ".m3u"):
		return FormatHLS
	default:
		return FormatOther
	}
}
