package middleware

import (
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"meetkit/pkg/errors"
	"meetkit/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errCameraGone = stderrors.New("camera unplugged")

func newObservedRouter(t *testing.T) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.DebugLevel)
	ctxLog := logger.NewContextLogger(zap.New(core))

	router := gin.New()
	router.Use(RequestLoggerMiddleware(ctxLog), ErrorHandlerMiddleware(ctxLog))
	router.GET("/internal", func(c *gin.Context) {
		c.Error(errors.NewInternalError("failed to switch camera").WithCause(errCameraGone))
	})
	router.GET("/conflict", func(c *gin.Context) {
		c.Error(errors.NewConflictError("local video tile").WithCause(errCameraGone).WithContext("tile_id", 1))
	})
	router.GET("/plain", func(c *gin.Context) { c.Error(errCameraGone) })
	return router, logs
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(requestIDHeader, "req-42")
	router.ServeHTTP(w, req)
	return w
}

func failureEntry(t *testing.T, logs *observer.ObservedLogs) observer.LoggedEntry {
	t.Helper()
	entries := logs.FilterMessageSnippet("request failed").All()
	if len(entries) == 0 {
		entries = logs.FilterMessage("unhandled error").All()
	}
	require.Len(t, entries, 1)
	return entries[0]
}

func TestErrorHandlerMiddleware_InternalErrorLogsCause(t *testing.T) {
	router, logs := newObservedRouter(t)

	w := get(router, "/internal")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeBody(t, w)["error"])
	assert.NotContains(t, w.Body.String(), "camera unplugged")

	entry := failureEntry(t, logs)
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "camera unplugged", fields["error"])
	assert.Equal(t, "req-42", fields["request_id"])
}

func TestErrorHandlerMiddleware_ClientErrorWarns(t *testing.T) {
	router, logs := newObservedRouter(t)

	w := get(router, "/conflict")
	require.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "CONFLICT", body["error"])
	assert.Equal(t, 1.0, body["details"].(map[string]any)["tile_id"])

	entry := failureEntry(t, logs)
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "camera unplugged", fields["cause"])
	assert.Equal(t, "req-42", fields["request_id"])
}

func TestErrorHandlerMiddleware_PlainErrorIsGeneric(t *testing.T) {
	router, logs := newObservedRouter(t)

	w := get(router, "/plain")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", decodeBody(t, w)["message"])

	entry := failureEntry(t, logs)
	assert.Equal(t, "unhandled error", entry.Message)
	assert.Equal(t, "camera unplugged", entry.ContextMap()["error"])
}
