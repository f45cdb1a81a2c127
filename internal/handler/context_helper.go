package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studio-portal-api/internal/middleware"
	"github.com/noah-isme/studio-portal-api/internal/models"
	"github.com/noah-isme/studio-portal-api/internal/service"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
	"github.com/noah-isme/studio-portal-api/pkg/response"
)

// actorFromContext returns the authenticated actor or writes a 401.
func actorFromContext(c *gin.Context) (service.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return service.Actor{}, false
	}
	return actor, true
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

func bindQuery(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

// optionalDate parses an already validated YYYY-MM-DD query value.
func optionalDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		return nil
	}
	return &d
}

// studentScope defaults an omitted student id to the calling student.
func studentScope(actor service.Actor, requested string) string {
	if requested == "" && actor.Role == models.RoleStudent {
		return actor.ID
	}
	return requested
}

func invalidDate(c *gin.Context, err error) {
	response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid date"))
}
