package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/studio-portal-api/internal/models"
	"github.com/noah-isme/studio-portal-api/internal/service"
)

var tokens = service.NewTokenService(service.TokenConfig{Secret: "test-secret"})

func bearer(t *testing.T, id string, role models.UserRole) string {
	t.Helper()
	token, err := tokens.Sign(&models.JWTClaims{UserID: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

type recordedRequest struct {
	method string
	path   string
	status int
}

type observerStub struct{ seen []recordedRequest }

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, _ time.Duration) {
	o.seen = append(o.seen, recordedRequest{method, path, status})
}

func newRouter(obs *observerStub, audit *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(obs), WithResponseMeta())
	authed := r.Group("/", JWT(tokens))
	authed.GET("/students/:studentId/credits", RBAC(string(models.RoleAdmin), Self), func(c *gin.Context) {
		actor, _ := ActorFrom(c)
		c.JSON(http.StatusOK, gin.H{"actor": actor.ID})
	})
	authed.POST("/occurrences/:id/cancel", RequireStaff(), Audit(audit, "cancel_occurrence", "occurrence"), func(c *gin.Context) {
		SetCacheHit(c, false)
		c.JSON(http.StatusOK, gin.H{"meta": ExtractMeta(c)})
	})
	return r
}

func do(r *gin.Engine, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestJWTRejectsMissingAndMalformedTokens(t *testing.T) {
	r := newRouter(&observerStub{}, nil)

	w := do(r, http.MethodGet, "/students/stu-1/credits", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))

	w = do(r, http.MethodGet, "/students/stu-1/credits", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/students/stu-1/credits", "Bearer not.a.jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRBACSelfAndStaff(t *testing.T) {
	r := newRouter(&observerStub{}, nil)

	w := do(r, http.MethodGet, "/students/stu-1/credits", bearer(t, "stu-1", models.RoleStudent))
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/students/stu-1/credits", bearer(t, "stu-2", models.RoleStudent))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, w))

	w = do(r, http.MethodGet, "/students/stu-1/credits", bearer(t, "adm-1", models.RoleAdmin))
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/occurrences/occ-1/cancel", bearer(t, "stu-1", models.RoleStudent))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuditAndMetricsOnStaffMutation(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	obs := &observerStub{}
	r := newRouter(obs, zap.New(core))

	w := do(r, http.MethodPost, "/occurrences/occ-1/cancel", bearer(t, "adm-1", models.RoleSuperAdmin))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body.Meta["cache_hit"])
	assert.Contains(t, body.Meta, "processing_time_ms")

	entries := logs.FilterMessage("audit").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "cancel_occurrence", fields["action"])
	assert.Equal(t, "adm-1", fields["actor_id"])
	assert.Equal(t, "occ-1", fields["resource_id"])

	do(r, http.MethodGet, "/nowhere", "")
	require.Len(t, obs.seen, 2)
	assert.Equal(t, "/occurrences/:id/cancel", obs.seen[0].path)
	assert.Equal(t, "unmatched", obs.seen[1].path)
	assert.Equal(t, http.StatusNotFound, obs.seen[1].status)
}
