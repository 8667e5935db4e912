package middleware

import (
	"compress/gzip"
	"io"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// CompressionConfig holds configuration for response compression
type CompressionConfig struct {
	CompressionLevel int      // Gzip compression level (1-9)
	ContentTypes     []string // Content types to compress
}

// DefaultCompressionConfig returns the default compression configuration
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		CompressionLevel: 6,
		ContentTypes: []string{
			"application/json",
			"text/plain",
			"text/html",
		},
	}
}

// CompressionMiddleware provides gzip compression for HTTP responses
type CompressionMiddleware struct {
	config CompressionConfig
	pool   sync.Pool
}

// NewCompressionMiddleware creates a new compression middleware
func NewCompressionMiddleware(config CompressionConfig) *CompressionMiddleware {
	if config.CompressionLevel < gzip.BestSpeed || config.CompressionLevel > gzip.BestCompression {
		config.CompressionLevel = gzip.DefaultCompression
	}
	cm := &CompressionMiddleware{config: config}
	cm.pool = sync.Pool{
		New: func() interface{} {
			gz, _ := gzip.NewWriterLevel(io.Discard, cm.config.CompressionLevel)
			return gz
		},
	}
	return cm
}

// Handler returns a Gin middleware that gzips responses for clients
// that advertise gzip support.
func (cm *CompressionMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
			c.Next()
			return
		}
		// Websocket upgrades and event streams must not be wrapped.
		if c.GetHeader("Upgrade") != "" {
			c.Next()
			return
		}

		gz := cm.pool.Get().(*gzip.Writer)
		defer cm.pool.Put(gz)
		gz.Reset(c.Writer)

		writer := &gzipWriter{ResponseWriter: c.Writer, gz: gz, types: cm.config.ContentTypes}
		c.Writer = writer

		defer func() {
			if writer.compressing {
				gz.Close()
				c.Header("Content-Length", "")
			}
		}()

		c.Header("Vary", "Accept-Encoding")
		c.Next()
	}
}

// gzipWriter wraps gin's ResponseWriter and decides on the first write
// whether the response body should pass through the gzip stream.
type gzipWriter struct {
	gin.ResponseWriter
	gz          *gzip.Writer
	types       []string
	decided     bool
	compressing bool
}

func (w *gzipWriter) decide() {
	w.decided = true
	contentType := w.Header().Get("Content-Type")
	for _, ct := range w.types {
		if strings.Contains(contentType, ct) {
			w.compressing = true
			w.Header().Set("Content-Encoding", "gzip")
			w.Header().Del("Content-Length")
			return
		}
	}
}

func (w *gzipWriter) Write(data []byte) (int, error) {
	if !w.decided {
		w.decide()
	}
	if w.compressing {
		return w.gz.Write(data)
	}
	return w.ResponseWriter.Write(data)
}

func (w *gzipWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}
