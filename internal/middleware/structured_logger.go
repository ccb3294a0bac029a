// Package middleware provides HTTP middleware for the Clawcierge API.
// This file implements structured request logging via the zerolog-backed
// logger package, keyed by request ID for correlation with handler and
// dispatch logs.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/morioust/clawcierge/internal/logger"
)

// StructuredLoggerConfig controls which fields StructuredLogger emits.
type StructuredLoggerConfig struct {
	SkipPaths       []string
	SkipHealthCheck bool
	LogQuery        bool
	LogUserAgent    bool
}

// DefaultStructuredLoggerConfig skips /healthz and logs query + user agent.
func DefaultStructuredLoggerConfig() StructuredLoggerConfig {
	return StructuredLoggerConfig{
		SkipPaths:       []string{},
		SkipHealthCheck: true,
		LogQuery:        true,
		LogUserAgent:    true,
	}
}

// StructuredLogger logs every request with the default configuration.
func StructuredLogger() gin.HandlerFunc {
	return StructuredLoggerWithConfig(DefaultStructuredLoggerConfig())
}

// StructuredLoggerWithConfig logs every request per config.
func StructuredLoggerWithConfig(config StructuredLoggerConfig) gin.HandlerFunc {
	skip := make(map[string]bool, len(config.SkipPaths)+1)
	for _, path := range config.SkipPaths {
		skip[path] = true
	}
	if config.SkipHealthCheck {
		skip["/healthz"] = true
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skip[path] {
			c.Next()
			return
		}

		start := time.Now()
		raw := c.Request.URL.RawQuery
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		event := logger.HTTP().Info()
		if status >= 500 {
			event = logger.HTTP().Error()
		} else if status >= 400 {
			event = logger.HTTP().Warn()
		}

		event = event.
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP())

		if config.LogQuery && raw != "" {
			event = event.Str("query", raw)
		}
		if config.LogUserAgent {
			event = event.Str("user_agent", c.Request.UserAgent())
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}

		event.Msg("request handled")
	}
}
