package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"ExplainerVideo-server/models"
	"ExplainerVideo-server/service"
	"ExplainerVideo-server/source"
)

// Handler serves the REST API on top of the orchestrator.
type Handler struct {
	o *service.Orchestrator
}

func NewHandler(o *service.Orchestrator) *Handler {
	return &Handler{o: o}
}

// statusFor 将业务错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrProjectNotFound),
		errors.Is(err, service.ErrSceneNotFound),
		errors.Is(err, service.ErrAssetNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyRunning),
		errors.Is(err, service.ErrEditInProgress),
		errors.Is(err, service.ErrRenderRunning),
		errors.Is(err, service.ErrDocumentsPending),
		errors.Is(err, service.ErrNotGenerated),
		errors.Is(err, service.ErrUploadsClosed):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidSource),
		errors.Is(err, service.ErrInvalidLayout),
		errors.Is(err, service.ErrNothingUploaded),
		errors.Is(err, source.ErrUnsupportedDocument),
		errors.Is(err, models.ErrInvalidOrder):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("[API] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
