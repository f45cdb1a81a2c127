package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/noah-isme/studio-portal-api/pkg/config"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
	"github.com/noah-isme/studio-portal-api/pkg/middleware/requestid"
)

// ErrorContextKey holds the *errors.Error rendered for the current request.
const ErrorContextKey = "app_error"

func New(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Env == config.EnvProduction {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Log.Format {
	case "console":
		zapCfg.Encoding = "console"
	default:
		zapCfg.Encoding = "json"
	}

	if cfg.Log.Level != "" {
		if err := zapCfg.Level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
	}

	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.InitialFields = map[string]interface{}{"service": "studio-portal", "studio_tz": cfg.Studio.Timezone}

	return zapCfg.Build()
}

// GinMiddleware logs one line per request. Business rejections (slot full,
// expired credit and the like) stay at info level; only faults go to error.
func GinMiddleware(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		reqID := requestid.Value(c)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		}
		if reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}

		var appErr *appErrors.Error
		if v, ok := c.Get(ErrorContextKey); ok {
			appErr, _ = v.(*appErrors.Error)
		}
		if appErr != nil {
			fields = append(fields, zap.String("error_code", appErr.Code), zap.String("error_kind", string(appErr.Kind)))
		}

		switch {
		case appErr != nil && !appErrors.IsExpected(appErr):
			if appErr.Err != nil {
				fields = append(fields, zap.Error(appErr.Err))
			}
			l.Error("http_request", fields...)
		case status >= 500:
			l.Error("http_request", fields...)
		default:
			l.Info("http_request", fields...)
		}
	}
}
