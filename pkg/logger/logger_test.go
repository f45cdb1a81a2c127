package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

func serve(t *testing.T, handler gin.HandlerFunc) []observer.LoggedEntry {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(GinMiddleware(zap.New(core)))
	r.GET("/x", handler)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return logs.All()
}

func TestGinMiddlewareKeepsBusinessRejectionsAtInfo(t *testing.T) {
	entries := serve(t, func(c *gin.Context) {
		c.Set(ErrorContextKey, appErrors.ErrSlotFull)
		c.Status(appErrors.ErrSlotFull.Status)
	})
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, "SLOT_FULL", entries[0].ContextMap()["error_code"])
}

func TestGinMiddlewareLogsFaultsAtError(t *testing.T) {
	entries := serve(t, func(c *gin.Context) {
		c.Set(ErrorContextKey, appErrors.ErrPartialUndo)
		c.Status(appErrors.ErrPartialUndo.Status)
	})
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)

	entries = serve(t, func(c *gin.Context) { c.Status(http.StatusBadGateway) })
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}
