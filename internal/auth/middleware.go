package auth

import (
	"net/http"
	"time"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/pkg/logger"
)

// Middleware 返回保护运维接口的 HTTP 中间件。
// 认证未启用时直接放行, 启用后每次访问都进审计日志。
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		operator, err := s.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			status := http.StatusUnauthorized
			if xerrors.CodeOf(err) == CodeInvalidToken {
				status = http.StatusForbidden
			}
			http.Error(w, http.StatusText(status), status)
			logger.Audit().Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"status", status,
				"error", err.Error())
			return
		}

		start := time.Now()
		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(aw, r)
		logger.Audit().Info("api_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", aw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"operator", operator)
	})
}

// auditWriter 捕获响应状态码供审计日志使用。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
