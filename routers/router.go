package routers

import (
	"ExplainerVideo-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter(h *api.Handler) *gin.Engine {
	r := gin.Default()
	r.GET("/health", api.Health)
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", h.CreateProject)
		v1.GET("/projects/:project_id", h.GetProject)
		v1.DELETE("/projects/:project_id", h.DeleteProject)
		v1.POST("/projects/:project_id/documents", h.UploadDocuments)
		v1.POST("/projects/:project_id/generate", h.StartGeneration)
		v1.GET("/projects/:project_id/status", h.GenerationStatus)
		v1.POST("/projects/:project_id/render", h.StartRender)
		v1.GET("/projects/:project_id/render", h.RenderStatus)

		v1.GET("/projects/:project_id/scenes", h.ListScenes)
		v1.POST("/projects/:project_id/scenes/reorder", h.ReorderScenes)
		v1.PUT("/projects/:project_id/scenes/:scene_id", h.EditScene)
		v1.POST("/projects/:project_id/scenes/:scene_id/layout", h.RegenerateLayout)

		v1.PATCH("/projects/:project_id/assets/:asset_id", h.UpdateAsset)
		v1.DELETE("/projects/:project_id/assets/:asset_id", h.DeleteAsset)
	}
	r.GET("/projects/:project_id/wss", h.ProgressWebSocket)
	return r
}
