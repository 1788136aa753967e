package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/tidectl/internal/auth"
	"github.com/danmuck/tidectl/internal/engine"
	"github.com/danmuck/tidectl/internal/rollout"
	"github.com/danmuck/tidectl/internal/scheduler"
	"github.com/danmuck/tidectl/internal/state"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"engine":  s.name,
			"version": "0.1.0",
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"uptime": time.Since(s.appeared).String(),
			"engine": s.name,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apps := s.router.Group("/apps", auth.Middleware(s.validator))

	apps.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"apps": s.engine.List(c.Request.Context())})
	})

	apps.GET("/:app", func(c *gin.Context) {
		status, err := s.engine.Status(c.Request.Context(), c.Param("app"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	})

	apps.GET("/:app/operations", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		ops, err := s.engine.Operations(c.Param("app"), limit)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"operations": ops})
	})

	apps.POST("/:app/sync", func(c *gin.Context) {
		var body struct {
			Revision string `json:"revision"`
		}
		_ = c.ShouldBindJSON(&body)
		err := s.engine.Trigger(c.Param("app"), state.Revision(body.Revision), scheduler.CauseOperator)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"status":   "queued",
			"revision": body.Revision,
		})
	})

	apps.POST("/:app/rollout/:action", func(c *gin.Context) {
		action := c.Param("action")
		switch action {
		case rollout.CommandPause, rollout.CommandResume, rollout.CommandAbort, rollout.CommandPromote:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown rollout action: " + action})
			return
		}
		rs, err := s.engine.RolloutCommand(c.Request.Context(), c.Param("app"), action)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"action": action, "rollout": rs})
	})

	apps.DELETE("/:app", func(c *gin.Context) {
		cascade := c.Query("cascade") == "true"
		if err := s.engine.Deregister(c.Request.Context(), c.Param("app"), cascade); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deregistered", "cascade": cascade})
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownApplication):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNoRollout),
		errors.Is(err, rollout.ErrNotLive),
		errors.Is(err, rollout.ErrAlreadyLive),
		errors.Is(err, scheduler.ErrManualMode):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
