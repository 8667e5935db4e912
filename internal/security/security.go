package security

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/variantlab/trafficsplit/internal/monitoring"
)

// SecurityConfig holds security configuration
type SecurityConfig struct {
	MaxURLLength          int           `json:"max_url_length"`
	MaxExperimentIDLength int           `json:"max_experiment_id_length"`
	RequestTimeout        time.Duration `json:"request_timeout"`
	TrustedProxies        []string      `json:"trusted_proxies"`
}

// DefaultSecurityConfig returns secure defaults. The URL cap is
// generous: marketing links carry long query strings, but nothing
// legitimate approaches 4 KB.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxURLLength:          4096,
		MaxExperimentIDLength: 128,
		RequestTimeout:        30 * time.Second,
		TrustedProxies:        []string{"127.0.0.1", "::1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
	}
}

// SecurityMiddleware provides input validation and request hardening
type SecurityMiddleware struct {
	config SecurityConfig
	logger *monitoring.Logger
}

// NewSecurityMiddleware creates a new security middleware instance
func NewSecurityMiddleware(config SecurityConfig) *SecurityMiddleware {
	return &SecurityMiddleware{config: config}
}

// SetLogger enables security event logging
func (sm *SecurityMiddleware) SetLogger(logger *monitoring.Logger) {
	sm.logger = logger
}

// ValidatePageURL validates a client-supplied page URL before it
// reaches the evaluator
func (sm *SecurityMiddleware) ValidatePageURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url must not be empty")
	}
	if len(raw) > sm.config.MaxURLLength {
		return fmt.Errorf("url exceeds maximum length of %d characters", sm.config.MaxURLLength)
	}
	if strings.Contains(raw, "\x00") {
		return fmt.Errorf("url contains invalid characters")
	}
	if !utf8.ValidString(raw) {
		return fmt.Errorf("url contains invalid UTF-8 encoding")
	}
	if _, err := url.Parse(raw); err != nil {
		return fmt.Errorf("url is not parseable: %w", err)
	}
	return nil
}

// ValidateExperimentID validates a client-supplied experiment
// identifier
func (sm *SecurityMiddleware) ValidateExperimentID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("experiment id must not be empty")
	}
	if len(id) > sm.config.MaxExperimentIDLength {
		return fmt.Errorf("experiment id exceeds maximum length of %d characters", sm.config.MaxExperimentIDLength)
	}
	if strings.Contains(id, "\x00") || !utf8.ValidString(id) {
		return fmt.Errorf("experiment id contains invalid characters")
	}
	return nil
}

// SecurityHeaders adds security headers to all responses
func (sm *SecurityMiddleware) SecurityHeaders(c *gin.Context) {
	c.Header("X-Frame-Options", "DENY")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-XSS-Protection", "1; mode=block")
	c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
	c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

	c.Next()
}

// ValidateContentType rejects non-JSON bodies on mutating endpoints
func (sm *SecurityMiddleware) ValidateContentType(c *gin.Context) {
	if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPut {
		c.Next()
		return
	}

	contentType := c.GetHeader("Content-Type")
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "application/json") {
		if sm.logger != nil {
			sm.logger.SecurityLogger("unsupported_content_type", c.ClientIP(), c.GetHeader("User-Agent"), map[string]interface{}{
				"content_type": contentType,
				"path":         c.Request.URL.Path,
			})
		}
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error": "unsupported content type",
		})
		c.Abort()
		return
	}

	c.Next()
}

// RequestTimeout enforces a deadline on every request
func (sm *SecurityMiddleware) RequestTimeout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), sm.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Timeout", strconv.Itoa(int(sm.config.RequestTimeout.Seconds())))

	c.Next()
}
