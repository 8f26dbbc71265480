package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"OmniSwap-Agent/internal/alert"
	"OmniSwap-Agent/internal/assistant"
	"OmniSwap-Agent/internal/auth"
	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/market"
	"OmniSwap-Agent/internal/userstore"
	"OmniSwap-Agent/pkg/logger"
)

// Server 暴露传输层 webhook 与运维接口。
type Server struct {
	addr   string
	router *assistant.Router
	store  userstore.Store
	alerts *alert.Engine
	oracle *market.Oracle
	auth   *auth.Service
}

// NewServer 构造 API 服务实例。authSvc 为 nil 时运维接口不做认证。
func NewServer(addr string, router *assistant.Router, store userstore.Store, alerts *alert.Engine, oracle *market.Oracle, authSvc *auth.Service) *Server {
	return &Server{addr: addr, router: router, store: store, alerts: alerts, oracle: oracle, auth: authSvc}
}

// Start 启动 HTTP 服务, 直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/intents", s.handleIntents)
	mux.Handle("/api/v1/users", s.operatorOnly(http.HandlerFunc(s.handleUsers)))
	mux.Handle("/api/v1/alerts", s.operatorOnly(http.HandlerFunc(s.handleAlerts)))
	mux.Handle("/api/v1/market/stats", s.operatorOnly(http.HandlerFunc(s.handleMarketStats)))
	mux.HandleFunc("/healthz", s.handleHealth)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.L().Info("API 服务已启动", "addr", s.addr)
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// operatorOnly 给运维接口套上认证中间件。
func (s *Server) operatorOnly(next http.Handler) http.Handler {
	if s.auth == nil {
		return next
	}
	return s.auth.Middleware(next)
}

// intentRequest 是传输层送来的单条消息。
type intentRequest struct {
	UserID string           `json:"user_id"`
	Intent assistant.Intent `json:"intent"`
}

// handleIntents 是传输层的 webhook: 收归一化意图, 回应答。
func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		http.Error(w, "缺少 user_id", http.StatusBadRequest)
		return
	}

	result := s.router.Handle(r.Context(), req.UserID, req.Intent)
	writeJSON(w, statusOf(result.Code), result)
}

// handleUsers 返回运维视角的用户概览, 不含任何密钥材料。
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	users, err := s.store.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type userSummary struct {
		ID           string    `json:"id"`
		Accounts     []string  `json:"accounts"`
		ActiveAlerts int       `json:"active_alerts"`
		CreatedAt    time.Time `json:"created_at"`
	}
	out := make([]userSummary, 0, len(users))
	for _, user := range users {
		summary := userSummary{ID: user.ID, CreatedAt: user.CreatedAt}
		for family := range user.Accounts {
			summary.Accounts = append(summary.Accounts, string(family))
		}
		for _, a := range user.Alerts {
			if a.Status == userstore.AlertActive {
				summary.ActiveAlerts++
			}
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out, "total": len(out)})
}

// handleAlerts 返回全部用户的告警汇总。
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	users, err := s.store.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type alertRow struct {
		UserID string          `json:"user_id"`
		Alert  userstore.Alert `json:"alert"`
	}
	var out []alertRow
	for _, user := range users {
		for _, a := range user.Alerts {
			out = append(out, alertRow{UserID: user.ID, Alert: a})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": out, "total": len(out)})
}

// handleMarketStats 返回行情缓存统计。
func (s *Server) handleMarketStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.oracle.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusOf 把业务错误码映射为 HTTP 状态码。应答总是完整返回,
// 状态码只是给传输层的提示。
func statusOf(code xerrors.Code) int {
	switch code {
	case "":
		return http.StatusOK
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeUpstreamUnavailable:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusOK
	}
}
