package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation id of an HTTP request.
const RequestIDHeader = "X-Request-ID"

type callRequest struct {
	Name      string         `json:"name" binding:"required"`
	Arguments map[string]any `json:"arguments"`
}

// NewHTTPHandler serves the tools over HTTP:
//
//	POST /tools/call   {"name": "...", "arguments": {...}}
//	GET  /tools
//	GET  /health
//	GET  /metrics      when metrics is non-nil
func NewHTTPHandler(tools *Registry, metrics http.Handler) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/tools", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tools": tools.Tools()})
	})

	r.POST("/tools/call", func(c *gin.Context) {
		var req callRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		result, err := tools.Call(c.Request.Context(), req.Name, req.Arguments)
		if err != nil {
			code := httpStatus(err)
			if code >= http.StatusInternalServerError {
				log.Error("tool call failed", "tool", req.Name, "requestID", c.GetString("requestID"), "error", err)
			}
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	return r
}

// requestID reuses the caller's X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
