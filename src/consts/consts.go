package consts

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	AppName = "DroneGuard-go"
)

// 默认探测的画面尺寸，在任何一次探测成功之前提供给下游布局计算
const (
	DefaultVideoWidth  = 960
	DefaultVideoHeight = 540
)

type Info struct {
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	BuildTime  string `json:"build_time"`
	GitHash    string `json:"git_hash"`
	Pid        int    `json:"pid"`
	Platform   string `json:"platform"`
	GoVersion  string `json:"go_version"`
	IsDocker   string `json:"is_docker"`
	ExePath    string `json:"exe_path"`
}

var (
	BuildTime  string
	AppVersion string
	GitHash    string
)

// GetAppInfo 返回应用信息
// 注意：AppVersion 等字段通过 -ldflags 在链接阶段注入，必须在运行时读取
func GetAppInfo() Info {
	exePath := ""
	if p, err := os.Executable(); err == nil {
		if absPath, err := filepath.Abs(p); err == nil {
			exePath = absPath
		} else {
			exePath = p
		}
	}

	return Info{
		AppName:    AppName,
		AppVersion: AppVersion,
		BuildTime:  BuildTime,
		GitHash:    GitHash,
		Pid:        os.Getpid(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		GoVersion:  runtime.Version(),
		IsDocker:   os.Getenv("IS_DOCKER"),
		ExePath:    exePath,
	}
}
