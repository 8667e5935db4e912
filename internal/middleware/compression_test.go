package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCompressedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewCompressionMiddleware(DefaultCompressionConfig()).Handler())
	router.GET("/json", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"payload": strings.Repeat("abc", 500)})
	})
	router.GET("/binary", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/octet-stream", []byte{0x01, 0x02, 0x03})
	})
	router.GET("/text", func(c *gin.Context) {
		c.String(http.StatusCreated, strings.Repeat("hello ", 300))
	})
	return router
}

// gin renders write the status before the content type is known; the
// compression decision must wait for the first body write.
func TestCompressionEngagesAfterExplicitStatus(t *testing.T) {
	router := setupCompressedRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/text", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	reader, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hello hello")
}

func TestCompressionGzipsJSONResponses(t *testing.T) {
	router := setupCompressedRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/json", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Equal(t, "Accept-Encoding", w.Header().Get("Vary"))

	reader, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Contains(t, string(body), "abcabc")
}

func TestCompressionSkipsWithoutAcceptEncoding(t *testing.T) {
	router := setupCompressedRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/json", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Contains(t, w.Body.String(), "abcabc")
}

func TestCompressionSkipsUnlistedContentTypes(t *testing.T) {
	router := setupCompressedRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/binary", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, w.Body.Bytes())
}

func TestCompressionLevelFallsBackWhenOutOfRange(t *testing.T) {
	cm := NewCompressionMiddleware(CompressionConfig{CompressionLevel: 42, ContentTypes: []string{"application/json"}})
	assert.Equal(t, gzip.DefaultCompression, cm.config.CompressionLevel)
}
