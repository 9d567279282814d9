package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AgentTx-ERC20/internal/agent"
	"AgentTx-ERC20/internal/auth"
	xerrors "AgentTx-ERC20/internal/errors"
	"AgentTx-ERC20/internal/observability/metrics"
	"AgentTx-ERC20/internal/tool/erc20"
	"AgentTx-ERC20/pkg/logger"
)

const (
	toolPrefix   = "/api/v1/tools/" + erc20.Name
	maxBodyBytes = 64 << 10

	// InvocationHeader 允许调用方指定调用 ID，便于幂等记账。
	InvocationHeader = "X-Invocation-ID"
)

// Server 负责暴露 REST 接口，供外部驱动转账工具。
type Server struct {
	addr          string
	agent         *agent.Agent
	auth          *auth.Service
	exposeMetrics bool
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithMetrics 在同一端口上挂载 /metrics。
func WithMetrics(enabled bool) Option {
	return func(s *Server) {
		s.exposeMetrics = enabled
	}
}

// WithAuth 为工具与账本接口启用 API Key 认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, ag *agent.Agent, opts ...Option) *Server {
	s := &Server{addr: addr, agent: ag}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册好路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, toolPrefix+"/schema", "schema", s.handleSchema)
	s.route(mux, toolPrefix+"/precheck", "precheck", s.handlePrecheck, auth.PermissionPrecheck)
	s.route(mux, toolPrefix+"/execute", "execute", s.handleExecute, auth.PermissionExecute)
	s.route(mux, "/api/v1/transfers", "transfers", s.handleListTransfers, auth.PermissionRead)
	if s.exposeMetrics {
		mux.Handle("/metrics", metrics.Handler())
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, operation string, h http.HandlerFunc, perms ...string) {
	var handler http.Handler = h
	if s.auth != nil && len(perms) > 0 {
		handler = s.auth.Middleware(perms...)(handler)
	}
	mux.Handle(pattern, instrument(operation, handler))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.L().Info("API 服务已启动", slog.String("addr", s.addr))

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

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       erc20.Name,
		"parameters": erc20.Schema(),
		"policies":   erc20.SupportedPolicies(),
	})
}

func (s *Server) handlePrecheck(w http.ResponseWriter, r *http.Request) {
	params, ok := s.decode(w, r)
	if !ok {
		return
	}
	result, err := s.agent.Precheck(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	params, ok := s.decode(w, r)
	if !ok {
		return
	}
	req := agent.TransferRequest{
		InvocationID: strings.TrimSpace(r.Header.Get(InvocationHeader)),
		Params:       params,
	}
	resp, err := s.agent.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.agent == nil {
		http.Error(w, "Agent 未初始化", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := s.agent.ListTransfers(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// decode 读取请求体并按参数 schema 解码，失败时已写出响应。
func (s *Server) decode(w http.ResponseWriter, r *http.Request) (erc20.Parameters, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return erc20.Parameters{}, false
	}
	if s.agent == nil {
		http.Error(w, "Agent 未初始化", http.StatusServiceUnavailable)
		return erc20.Parameters{}, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "请求体读取失败", http.StatusBadRequest)
		return erc20.Parameters{}, false
	}
	params, err := erc20.DecodeParameters(body)
	if err != nil {
		writeError(w, err)
		return erc20.Parameters{}, false
	}
	return params, true
}

type errorBody struct {
	Success   bool         `json:"success"`
	Error     string       `json:"error"`
	ErrorCode xerrors.Code `json:"errorCode"`
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error(), ErrorCode: xerrors.CodeOf(err)}
	if e, ok := xerrors.From(err); ok {
		body.Error = e.Message()
	}
	writeJSON(w, statusFor(body.ErrorCode), body)
}

func statusFor(code xerrors.Code) int {
	switch code {
	case erc20.CodeInvalidParameters, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 按工具操作记录请求耗时与状态码。
func instrument(operation string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(erc20.Name, operation, r.Method, rec.status, time.Since(started))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
