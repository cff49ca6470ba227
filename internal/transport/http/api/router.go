// Package apihttp 是交易指令的 HTTP 入口。
package apihttp

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tradebridge/internal/bridge"
	"tradebridge/internal/logger"
	"tradebridge/internal/mapper"
	"tradebridge/internal/store/audit"

	"github.com/gin-gonic/gin"
)

const maxBodyBytes = 1 << 20

// Bridge is the dispatcher surface the routes need; *bridge.Service
// implements it.
type Bridge interface {
	Dispatch(ctx context.Context, req bridge.Request) (bridge.Result, error)
	Forget(ctx context.Context, ticket string) (mapper.Mapping, error)
	Mappings() []mapper.Mapping
	SessionStatus() bridge.SessionStatus
	RefreshSession(ctx context.Context) error
	Operations(ctx context.Context, ticket string, limit int) ([]audit.Operation, error)
}

type Router struct {
	bridge Bridge
}

func NewRouter(b Bridge) *Router {
	return &Router{bridge: b}
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/trades", r.handleCommand)
	group.GET("/trades/mappings", r.handleMappings)
	group.DELETE("/trades/mappings/:ticket", r.handleForget)
	group.GET("/trades/operations", r.handleOperations)
	group.GET("/session", r.handleSession)
	group.POST("/session/refresh", r.handleRefresh)
}

func (r *Router) handleCommand(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		writeError(c, bridge.Wrap(bridge.KindInvalidInput, "No JSON data received, or invalid format", err))
		return
	}
	req, err := bridge.ParseRequest(body)
	if err != nil {
		writeError(c, err)
		return
	}
	// 客户端断开不应中断已开始的终端操作
	res, err := r.bridge.Dispatch(context.WithoutCancel(c.Request.Context()), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res.Body)
}

func (r *Router) handleMappings(c *gin.Context) {
	mappings := r.bridge.Mappings()
	c.JSON(http.StatusOK, gin.H{"mappings": mappings, "count": len(mappings)})
}

func (r *Router) handleForget(c *gin.Context) {
	ticket := strings.TrimSpace(c.Param("ticket"))
	if ticket == "" {
		writeError(c, bridge.New(bridge.KindInvalidInput, "ticket is required"))
		return
	}
	mp, err := r.bridge.Forget(c.Request.Context(), ticket)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "Trade removed from map: " + mp.PositionID, "mapping": mp})
}

func (r *Router) handleOperations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	ops, err := r.bridge.Operations(c.Request.Context(), c.Query("ticket"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops, "count": len(ops)})
}

func (r *Router) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, r.bridge.SessionStatus())
}

func (r *Router) handleRefresh(c *gin.Context) {
	if err := r.bridge.RefreshSession(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r.bridge.SessionStatus())
}

func writeError(c *gin.Context, err error) {
	kind := bridge.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		logger.Errorf("[api] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": bridge.PublicMessage(err), "code": string(kind)})
}

func statusFor(kind bridge.Kind) int {
	switch kind {
	case bridge.KindInvalidInput:
		return http.StatusBadRequest
	case bridge.KindNotMapped:
		return http.StatusNotFound
	case bridge.KindResourceBusy, bridge.KindSessionDegraded:
		return http.StatusServiceUnavailable
	case bridge.KindActionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
