package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ExplainerVideo-server/layout"
	"ExplainerVideo-server/service"
)

// 获取分镜列表
func (h *Handler) ListScenes(c *gin.Context) {
	projectID := c.Param("project_id")
	scenes, err := h.o.ListScenes(c.Request.Context(), projectID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scenes":       scenes,
		"project_id":   projectID,
		"total_scenes": len(scenes),
	})
}

type editSceneRequest struct {
	Title             *string `json:"title"`
	Narration         *string `json:"narration"`
	VisualDescription *string `json:"visual_description"`
}

// 手动编辑分镜，未提供的字段保持不变
func (h *Handler) EditScene(c *gin.Context) {
	var req editSceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sc, err := h.o.EditScene(c.Request.Context(), c.Param("project_id"), c.Param("scene_id"), service.SceneEdit{
		Title:             req.Title,
		Narration:         req.Narration,
		VisualDescription: req.VisualDescription,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

type regenerateRequest struct {
	Arrangement string `json:"arrangement"`
	Instruction string `json:"instruction"`
}

// 重新生成单个分镜布局，body 可为空
func (h *Handler) RegenerateLayout(c *gin.Context) {
	var req regenerateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	sc, err := h.o.RegenerateLayout(c.Request.Context(), c.Param("project_id"), c.Param("scene_id"),
		layout.Arrangement(req.Arrangement), req.Instruction)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

type reorderRequest struct {
	SceneIDs []string `json:"scene_ids" binding:"required"`
}

func (h *Handler) ReorderScenes(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	scenes, err := h.o.ReorderScenes(c.Request.Context(), c.Param("project_id"), req.SceneIDs)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenes": scenes})
}
