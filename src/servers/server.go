package servers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/droneguard/droneguard-go/src/instance"
	applog "github.com/droneguard/droneguard-go/src/log"
	dgsentry "github.com/droneguard/droneguard-go/src/pkg/sentry"
)

type commonResp struct {
	ErrNo  int         `json:"err_no"`
	ErrMsg string      `json:"err_msg"`
	Data   interface{} `json:"data,omitempty"`
}

// Server HTTP API 与 SSE 服务
type Server struct {
	server *http.Server
	inst   *instance.Instance
	hub    *SSEHub
}

func NewServer(inst *instance.Instance, bind string) *Server {
	s := &Server{
		inst: inst,
		hub:  NewSSEHub(),
	}
	s.server = &http.Server{
		Addr:              bind,
		Handler:           s.initMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) initMux() http.Handler {
	m := mux.NewRouter()
	m.Use(log, withInstance(s.inst))

	api := m.PathPrefix("/api").Subrouter()
	api.HandleFunc("/info", getInfo).Methods("GET")

	api.HandleFunc("/probe", getProbe).Methods("GET")
	api.HandleFunc("/probe/trigger", triggerProbe).Methods("POST")
	api.HandleFunc("/probe/logs", getProbeLogs).Methods("GET")
	api.HandleFunc("/probe/events", makeSSEHandler(s.hub)).Methods("GET")
	api.HandleFunc("/player/errors", reportPlayerError).Methods("POST")

	api.HandleFunc("/config", getConfig).Methods("GET")
	api.HandleFunc("/config/raw", getRawConfig).Methods("GET")
	api.HandleFunc("/config/debug", putDebug).Methods("PUT")

	api.HandleFunc("/auth/token", putToken).Methods("PUT")
	api.HandleFunc("/beaches", getBeaches).Methods("GET")
	api.HandleFunc("/beaches/selected", getSelectedBeach).Methods("GET")
	api.HandleFunc("/beaches/selected", putSelectedBeach).Methods("PUT")

	if s.inst != nil && s.inst.Registry != nil {
		m.Handle("/metrics", promhttp.HandlerFor(s.inst.Registry, promhttp.HandlerOpts{}))
	}
	return m
}

// Handler 返回路由，测试中直接使用
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Hub 返回 SSE hub
func (s *Server) Hub() *SSEHub {
	return s.hub
}

// Start 监听端口并在后台提供服务，同时把探测状态与日志推送到 SSE
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }
	s.startBroadcast(ctx)

	s.goTracked(func() {
		applog.GetLogger().Infof("Server start at %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.GetLogger().WithError(err).Error("Server stopped unexpectedly")
		}
	})
	return nil
}

// goTracked 启动的协程计入 inst.WaitGroup，退出时 main 会等待它们结束
func (s *Server) goTracked(f func()) {
	if s.inst == nil {
		dgsentry.Go(f)
		return
	}
	s.inst.WaitGroup.Add(1)
	dgsentry.Go(func() {
		defer s.inst.WaitGroup.Done()
		f()
	})
}

func (s *Server) startBroadcast(ctx context.Context) {
	if s.inst == nil {
		return
	}
	if s.inst.ProbeLogger != nil {
		s.inst.ProbeLogger.SetCallback(s.hub.BroadcastLog)
	}
	if s.inst.Coordinator == nil {
		return
	}
	states, unsubscribe := s.inst.Coordinator.Subscribe()
	source := s.inst.Coordinator.Source()
	s.goTracked(func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.hub.Done():
				return
			case st, ok := <-states:
				if !ok {
					return
				}
				s.hub.BroadcastProbeState(source, st)
			}
		}
	})
}

// Close 关闭 SSE 连接并优雅停止 HTTP 服务
func (s *Server) Close(ctx context.Context) error {
	s.hub.Close()
	if s.inst != nil && s.inst.ProbeLogger != nil {
		s.inst.ProbeLogger.SetCallback(nil)
	}
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx2)
}

func writeJSON(writer http.ResponseWriter, obj interface{}) {
	writeJsonWithStatusCode(writer, http.StatusOK, obj)
}

func writeJsonWithStatusCode(writer http.ResponseWriter, statusCode int, obj interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	if err := json.NewEncoder(writer).Encode(obj); err != nil {
		applog.GetLogger().WithError(err).Debug("failed to write response")
	}
}

func writeError(writer http.ResponseWriter, statusCode int, msg string) {
	writeJsonWithStatusCode(writer, statusCode, commonResp{
		ErrNo:  statusCode,
		ErrMsg: msg,
	})
}
