package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/beastiary/gameobject"
	mw "github.com/kasuganosora/beastiary/middleware"
	"go.uber.org/zap"
)

// statusFor maps a classified game error onto an HTTP status.
func statusFor(err error) int {
	switch gameobject.CodeOf(err) {
	case gameobject.CodeNotFound:
		return http.StatusNotFound
	case gameobject.CodeInvalidValue:
		return http.StatusBadRequest
	case gameobject.CodeInsufficientResource, gameobject.CodeContract:
		return http.StatusConflict
	case gameobject.CodePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Server-side failures are logged; client
// errors only reach the request log.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", append(mw.LogFields(c), zap.Error(err))...)
	}
	_ = c.Error(err)
	body := gin.H{"error": err.Error()}
	if code := gameobject.CodeOf(err); code != "" {
		body["code"] = code
	}
	c.JSON(status, body)
}
