package streamprobe

import (
	"github.com/sirupsen/logrus"

	"github.com/droneguard/droneguard-go/src/configs"
	"github.com/droneguard/droneguard-go/src/pkg/proxy"
)

// NewFromConfig 按配置中的探测器类型构建 Prober，logger 可为 nil
func NewFromConfig(cfg *configs.Config, logger logrus.FieldLogger) Prober {
	client := proxy.NewHTTPClient(0)
	flv := &NativeFLV{Client: client, Headers: cfg.Source.Headers}
	hls := &NativeHLS{Client: client, Headers: cfg.Source.Headers}
	ff := NewFFprobe(cfg.FfprobePath, cfg.FfprobeArgs, proxy.GetProxyEnvVars)
	ff.Logger = logger

	switch cfg.Source.Prober {
	case configs.ProberFFprobe:
		return ff
	case configs.ProberNative:
		return &NativeOnly{FLV: flv, HLS: hls}
	default:
		return &Auto{FLV: flv, HLS: hls, FFprobe: ff}
	}
}
