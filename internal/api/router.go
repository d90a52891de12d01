package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/LJTian/MarketPulse/internal/scheduler"
	"github.com/LJTian/MarketPulse/internal/storage"
)

// RunStore 运行台账的只读视图
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]storage.RunRecord, error)
	GetRun(ctx context.Context, id string) (*storage.RunRecord, error)
}

// Trigger 手动触发采集
type Trigger interface {
	Trigger() error
	Running() bool
}

type Server struct {
	// 未配置 POSTGRES_DSN 时为 nil，运行记录接口返回 503
	store   RunStore
	trigger Trigger
	log     logrus.FieldLogger
}

func NewServer(store RunStore, trigger Trigger, log logrus.FieldLogger) *Server {
	return &Server{store: store, trigger: trigger, log: log}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/runs", s.listRuns)
		v1.GET("/runs/:id", s.getRun)
		v1.POST("/runs", s.triggerRun)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "running": s.trigger.Running()})
}

func (s *Server) listRuns(c *gin.Context) {
	if s.store == nil {
		ledgerDisabled(c)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("list runs failed")
		internalError(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    runs,
	})
}

func (s *Server) getRun(c *gin.Context) {
	if s.store == nil {
		ledgerDisabled(c)
		return
	}

	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "not_found",
			"message": "run not found",
		})
		return
	}
	if err != nil {
		s.log.WithError(err).Error("get run failed")
		internalError(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    run,
	})
}

func (s *Server) triggerRun(c *gin.Context) {
	if err := s.trigger.Trigger(); err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "run_in_progress",
				"message": err.Error(),
			})
			return
		}
		s.log.WithError(err).Error("trigger run failed")
		internalError(c)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    "ok",
		"message": "collection started",
	})
}

func ledgerDisabled(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"code":    "ledger_disabled",
		"message": "run ledger is not configured",
	})
}

func internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "internal_error",
		"message": "internal server error",
	})
}

// BasicAuth 为整个服务增加一个简单的 Basic Auth 访问密码，/health 不做认证，便于健康检查
func BasicAuth(user, pass string) gin.HandlerFunc {
	const realm = "Restricted"
	uBytes := []byte(user)
	pBytes := []byte(pass)

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), uBytes) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), pBytes) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}
