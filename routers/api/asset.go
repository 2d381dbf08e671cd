package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type assetPatchRequest struct {
	Excluded *bool `json:"excluded" binding:"required"`
}

// 切换图片素材是否参与成片
func (h *Handler) UpdateAsset(c *gin.Context) {
	var req assetPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.o.SetAssetExcluded(c.Request.Context(), c.Param("project_id"), c.Param("asset_id"), *req.Excluded)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// 删除素材（本地文件与对象存储副本一起删除）
func (h *Handler) DeleteAsset(c *gin.Context) {
	if err := h.o.DeleteAsset(c.Request.Context(), c.Param("project_id"), c.Param("asset_id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
