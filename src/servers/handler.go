package servers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/droneguard/droneguard-go/src/consts"
	"github.com/droneguard/droneguard-go/src/instance"
	applog "github.com/droneguard/droneguard-go/src/log"
	"github.com/droneguard/droneguard-go/src/pkg/beaches"
	"github.com/droneguard/droneguard-go/src/pkg/kvstore"
)

func getInfo(writer http.ResponseWriter, r *http.Request) {
	writeJSON(writer, consts.GetAppInfo())
}

func getProbe(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	if inst == nil || inst.Coordinator == nil {
		writeError(writer, http.StatusServiceUnavailable, "探测器未初始化")
		return
	}
	writeJSON(writer, inst.Coordinator.Snapshot())
}

type triggerReq struct {
	Trigger *string `json:"trigger"`
}

func triggerProbe(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	if inst == nil || inst.Coordinator == nil {
		writeError(writer, http.StatusServiceUnavailable, "探测器未初始化")
		return
	}
	var req triggerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Trigger == nil {
		writeError(writer, http.StatusBadRequest, `请求体应为 {"trigger": "<value>"}`)
		return
	}
	started := inst.Coordinator.OnTriggerChanged(*req.Trigger)
	writeJSON(writer, map[string]interface{}{
		"started": started,
		"trigger": *req.Trigger,
	})
}

// reportPlayerError 播放器出错时调用，错误次数变化会触发重新探测
func reportPlayerError(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	if inst == nil || inst.Coordinator == nil {
		writeError(writer, http.StatusServiceUnavailable, "探测器未初始化")
		return
	}
	n, trigger := inst.ReportPlayerError()
	started := inst.Coordinator.OnTriggerChanged(trigger)
	applog.GetLogger().WithField("player_errors", n).Info("播放出错，重新探测流信息")
	writeJSON(writer, map[string]interface{}{
		"player_errors": n,
		"started":       started,
	})
}

func getProbeLogs(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	logs := ""
	if inst != nil && inst.ProbeLogger != nil {
		logs = inst.ProbeLogger.GetLogs()
	}
	writeJSON(writer, map[string]interface{}{
		"logs": logs,
	})
}

func storeOf(writer http.ResponseWriter, r *http.Request) *kvstore.Store {
	inst := instance.GetInstance(r.Context())
	if inst == nil || inst.Store == nil {
		writeError(writer, http.StatusServiceUnavailable, "本地存储不可用")
		return nil
	}
	return inst.Store
}

type tokenReq struct {
	Token string `json:"token"`
}

func putToken(writer http.ResponseWriter, r *http.Request) {
	store := storeOf(writer, r)
	if store == nil {
		return
	}
	var req tokenReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	var err error
	if strings.TrimSpace(req.Token) == "" {
		err = store.Delete(r.Context(), kvstore.NamespaceAuth, kvstore.KeyUserToken)
	} else {
		err = store.Set(r.Context(), kvstore.NamespaceAuth, kvstore.KeyUserToken, req.Token)
	}
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err.Error())
		return
	}
	if inst := instance.GetInstance(r.Context()); inst.Beaches != nil {
		inst.Beaches.Invalidate()
	}
	writeJSON(writer, commonResp{Data: "OK"})
}

func getBeaches(writer http.ResponseWriter, r *http.Request) {
	store := storeOf(writer, r)
	if store == nil {
		return
	}
	inst := instance.GetInstance(r.Context())
	if inst.Beaches == nil {
		writeError(writer, http.StatusServiceUnavailable, "海滩列表服务未配置")
		return
	}
	token, err := store.Get(r.Context(), kvstore.NamespaceAuth, kvstore.KeyUserToken)
	if err != nil {
		applog.GetLogger().WithError(err).Errorf("ERROR reading %s from local store", kvstore.KeyUserToken)
		writeError(writer, http.StatusInternalServerError, err.Error())
		return
	}

	list, err := inst.Beaches.List(r.Context(), token)
	if err != nil {
		var fe *beaches.FetchError
		switch {
		case errors.Is(err, beaches.ErrNoToken):
			writeError(writer, http.StatusUnauthorized, err.Error())
		case errors.As(err, &fe):
			applog.GetLogger().Infof("beaches fetch failed with status = %d", fe.Status)
			writeError(writer, http.StatusBadGateway, fe.Message)
		default:
			applog.GetLogger().WithError(err).Info("beaches fetch failed")
			writeError(writer, http.StatusBadGateway, err.Error())
		}
		return
	}
	applog.GetLogger().Debugf("number of beaches returned = %d", len(list))
	writeJSON(writer, list)
}

type selectedBeach struct {
	BeachID string `json:"beach_id"`
}

func getSelectedBeach(writer http.ResponseWriter, r *http.Request) {
	store := storeOf(writer, r)
	if store == nil {
		return
	}
	id, err := store.Get(r.Context(), kvstore.NamespaceSelection, kvstore.KeyBeachID)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(writer, selectedBeach{BeachID: id})
}

func putSelectedBeach(writer http.ResponseWriter, r *http.Request) {
	store := storeOf(writer, r)
	if store == nil {
		return
	}
	var req selectedBeach
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BeachID == "" {
		writeError(writer, http.StatusBadRequest, "beach_id 不能为空")
		return
	}
	if err := store.Set(r.Context(), kvstore.NamespaceSelection, kvstore.KeyBeachID, req.BeachID); err != nil {
		applog.GetLogger().WithError(err).Errorf("ERROR setting %s in local store", kvstore.KeyBeachID)
		writeError(writer, http.StatusInternalServerError, err.Error())
		return
	}
	applog.GetLogger().Infof("chosen beach = %s", req.BeachID)
	writeJSON(writer, req)
}
