package flag

import (
	"github.com/alecthomas/kingpin"

	"github.com/droneguard/droneguard-go/src/configs"
	"github.com/droneguard/droneguard-go/src/consts"
)

var (
	app = kingpin.New(consts.AppName, "A service that probes a live stream and publishes its video size.")

	Debug        = app.Flag("debug", "Enable debug mode.").Default("false").Bool()
	Conf         = app.Flag("config", "Config file.").Short('c').Default("").String()
	Source       = app.Flag("source", "Stream address to probe.").Default("").String()
	Prober       = app.Flag("prober", "Prober type: auto, ffprobe or native.").Default("auto").Enum("auto", "ffprobe", "native")
	ProbeTimeout = app.Flag("probe-timeout", "Timeout of a single probe, 0 means unlimited.").Default("15s").Duration()
	FfprobePath  = app.Flag("ffprobe-path", "Path of the ffprobe binary.").Default("").String()
	RPC          = app.Flag("enable-rpc", "Enable the HTTP API.").Default("true").Bool()
	RPCBind      = app.Flag("rpc-bind", "HTTP API bind address.").Default(":8080").String()
)

// Parse 解析命令行参数
func Parse(args []string) error {
	app.Version(consts.AppVersion)
	_, err := app.Parse(args)
	return err
}

// GenConfigFromFlags 未指定配置文件时由命令行参数生成配置
func GenConfigFromFlags() *configs.Config {
	cfg := configs.NewConfig()
	cfg.RPC = configs.RPC{
		Enable: *RPC,
		Bind:   *RPCBind,
	}
	cfg.Debug = *Debug
	if *Source != "" {
		cfg.Source.Address = *Source
	}
	cfg.Source.Prober = configs.ParseProberType(*Prober)
	cfg.Source.ProbeTimeout = *ProbeTimeout
	cfg.FfprobePath = *FfprobePath
	return cfg
}

