package servers

import (
	"net/http"

	"github.com/droneguard/droneguard-go/src/instance"
	applog "github.com/droneguard/droneguard-go/src/log"
)

func log(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applog.GetLogger().WithFields(map[string]any{
			"Method":     r.Method,
			"Path":       r.RequestURI,
			"RemoteAddr": r.RemoteAddr,
		}).Debug("Http Request")
		handler.ServeHTTP(w, r)
	})
}

// withInstance 把 inst 放进请求的 context，handler 通过 instance.GetInstance 取用
func withInstance(inst *instance.Instance) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler.ServeHTTP(w, r.WithContext(instance.WithInstance(r.Context(), inst)))
		})
	}
}
