package apihttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tradebridge/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server 对外提供交易指令入口、映射查询与会话管理接口。
type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr   string
	Bridge Bridge
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Bridge == nil {
		return nil, errors.New("api http server requires a bridge")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":5000"
	}
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	NewRouter(cfg.Bridge).Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// requestLogger 按路由模板记录请求；5xx 提升到 warn 级别。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		logf := logger.Debugf
		if status >= http.StatusInternalServerError {
			logf = logger.Warnf
		}
		logf("[api] %s %s status=%d ip=%s dur=%s", c.Request.Method, route, status, c.ClientIP(), time.Since(start).Round(time.Microsecond))
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the engine for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[api] listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
