package servers

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/droneguard/droneguard-go/src/configs"
	applog "github.com/droneguard/droneguard-go/src/log"
)

func getConfig(writer http.ResponseWriter, r *http.Request) {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		writeError(writer, http.StatusServiceUnavailable, "配置未加载")
		return
	}
	writeJSON(writer, cfg)
}

// getRawConfig 返回配置文件原文，配置不是从文件加载时返回 404
func getRawConfig(writer http.ResponseWriter, r *http.Request) {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		writeError(writer, http.StatusServiceUnavailable, "配置未加载")
		return
	}
	path, err := cfg.GetFilePath()
	if err != nil {
		writeError(writer, http.StatusNotFound, "配置不是从文件加载的")
		return
	}
	b, err := os.ReadFile(path)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(writer, map[string]string{
		"config": string(b),
	})
}

type debugReq struct {
	Debug *bool `json:"debug"`
}

// putDebug 运行时切换 Debug，配置来自文件时会写回文件
func putDebug(writer http.ResponseWriter, r *http.Request) {
	var req debugReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Debug == nil {
		writeError(writer, http.StatusBadRequest, `请求体应为 {"debug": true|false}`)
		return
	}
	cfg, err := configs.SetDebug(*req.Debug)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err.Error())
		return
	}
	applog.ApplyDebug(cfg.Debug)
	applog.GetLogger().WithField("debug", cfg.Debug).Info("Debug 模式已切换")
	writeJSON(writer, map[string]interface{}{
		"debug":   configs.IsDebug(),
		"version": cfg.Version,
	})
}
