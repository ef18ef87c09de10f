package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-contrib/requestid"
	"github.com/sirupsen/logrus"
)

type LoggingMiddleware struct {
	logger      *logrus.Logger
	auditLogger *logrus.Logger
	config      *LoggingConfig
}

type LoggingConfig struct {
	EnableAuditLogging   bool
	ExcludePaths         []string
	SlowRequestThreshold time.Duration
}

func NewLoggingMiddleware(logger, auditLogger *logrus.Logger, config *LoggingConfig) *LoggingMiddleware {
	if config == nil {
		config = &LoggingConfig{
			EnableAuditLogging:   true,
			ExcludePaths:         []string{"/health", "/ready", "/metrics"},
			SlowRequestThreshold: 2 * time.Second,
		}
	}
	return &LoggingMiddleware{
		logger:      logger,
		auditLogger: auditLogger,
		config:      config,
	}
}

// RequestLogger emits one structured line per request.
func (l *LoggingMiddleware) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.shouldExcludePath(c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		entry := l.logger.WithFields(logrus.Fields{
			"request_id":    requestid.Get(c),
			"method":        c.Request.Method,
			"path":          c.Request.URL.Path,
			"status_code":   c.Writer.Status(),
			"latency_ms":    latency.Milliseconds(),
			"client_ip":     c.ClientIP(),
			"response_size": c.Writer.Size(),
		})

		if latency > l.config.SlowRequestThreshold {
			entry = entry.WithField("slow_request", true)
		}

		switch {
		case c.Writer.Status() >= 500:
			entry.Error("Server error")
		case c.Writer.Status() >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request completed")
		}
	}
}

// AuditLogger records lifecycle mutations to the audit stream. Read-only
// endpoints are not audited.
func (l *LoggingMiddleware) AuditLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.config.EnableAuditLogging || c.Request.Method == "GET" || l.shouldExcludePath(c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		l.auditLogger.WithFields(logrus.Fields{
			"request_id":  requestid.Get(c),
			"action":      determineAction(c.Request.Method, c.Request.URL.Path),
			"resource":    determineResource(c.Request.URL.Path),
			"method":      c.Request.Method,
			"url":         c.Request.URL.String(),
			"client_ip":   c.ClientIP(),
			"success":     c.Writer.Status() < 400,
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("Audit event")
	}
}

func (l *LoggingMiddleware) shouldExcludePath(path string) bool {
	for _, excludePath := range l.config.ExcludePaths {
		if strings.HasPrefix(path, excludePath) {
			return true
		}
	}
	return false
}

func determineAction(method, path string) string {
	switch {
	case strings.Contains(path, "/approve"):
		return "approve_proposal"
	case strings.Contains(path, "/complete"):
		return "complete_proposal"
	case strings.Contains(path, "/auto_rebalance"):
		return "auto_rebalance"
	case strings.Contains(path, "/auto_create_proposals"):
		return "auto_create_proposals"
	case strings.Contains(path, "/expire_proposals"):
		return "expire_proposals"
	case strings.Contains(path, "/recalculate_proposals"):
		return "recalculate_proposals"
	}

	switch method {
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return "unknown"
	}
}

func determineResource(path string) string {
	switch {
	case strings.Contains(path, "/proposals"):
		return "proposal"
	case strings.Contains(path, "/transactions"):
		return "transaction"
	case strings.Contains(path, "/receipts"):
		return "receipt"
	case strings.Contains(path, "/counterparties"):
		return "counterparty"
	case strings.Contains(path, "/balance"):
		return "balance"
	}
	return "unknown"
}
