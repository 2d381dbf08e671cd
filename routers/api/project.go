package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"ExplainerVideo-server/service"
)

type createProjectRequest struct {
	OwnerID         string `json:"owner_id"`
	Tier            string `json:"tier"`
	Name            string `json:"name"`
	SourceURL       string `json:"source_url"`
	Upload          bool   `json:"upload"`
	TemplateID      string `json:"template_id"`
	AspectRatio     string `json:"aspect_ratio"`
	PrimaryColor    string `json:"primary_color"`
	SecondaryColor  string `json:"secondary_color"`
	BackgroundColor string `json:"background_color"`
	TextColor       string `json:"text_color"`
	VoiceGender     string `json:"voice_gender"`
	VoiceAccent     string `json:"voice_accent"`
}

// 创建项目：POST /v1/api/projects
func (h *Handler) CreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.o.CreateProject(c.Request.Context(), service.NewProject{
		OwnerID:         req.OwnerID,
		Tier:            req.Tier,
		Name:            req.Name,
		SourceURL:       req.SourceURL,
		Upload:          req.Upload,
		TemplateID:      req.TemplateID,
		AspectRatio:     req.AspectRatio,
		PrimaryColor:    req.PrimaryColor,
		SecondaryColor:  req.SecondaryColor,
		BackgroundColor: req.BackgroundColor,
		TextColor:       req.TextColor,
		VoiceGender:     req.VoiceGender,
		VoiceAccent:     req.VoiceAccent,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// 获取项目详情（含分镜与素材）
func (h *Handler) GetProject(c *gin.Context) {
	d, err := h.o.GetProject(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteProject(c *gin.Context) {
	if err := h.o.DeleteProject(c.Request.Context(), c.Param("project_id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// 上传文档：multipart 字段 files
func (h *Handler) UploadDocuments(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required: " + err.Error()})
		return
	}
	headers := form.File["files"]
	uploads := make([]service.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("open %s: %v", fh.Filename, err)})
			return
		}
		defer f.Close()
		uploads = append(uploads, service.Upload{Filename: fh.Filename, Body: f})
	}

	p, err := h.o.AddDocuments(c.Request.Context(), c.Param("project_id"), uploads)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// 启动生成：已生成的项目直接返回 already-done
func (h *Handler) StartGeneration(c *gin.Context) {
	err := h.o.StartGeneration(c.Request.Context(), c.Param("project_id"))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	case errors.Is(err, service.ErrAlreadyDone):
		c.JSON(http.StatusOK, gin.H{"status": "already-done"})
	default:
		fail(c, err)
	}
}

func (h *Handler) GenerationStatus(c *gin.Context) {
	st, err := h.o.PollGeneration(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
