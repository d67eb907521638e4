package auth

import (
	"net/http"
	"time"

	"ToolPay-Chain/pkg/logger"
)

// Middleware 在请求入口解析一次调用方身份并注入上下文，同时记录
// 访问审计日志。
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		identity := r.Resolve(req.Header.Get("Authorization"))
		ctx := WithIdentity(req.Context(), identity)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, req.WithContext(ctx))

		logger.Audit().Info("api_request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", recorder.status,
			"identity", string(identity.Kind),
			"subject", identity.Subject,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
