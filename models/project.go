package models

import (
	"strings"
	"time"
)

// 项目状态常量（生命周期：CREATED → SCRAPED → SCRIPTED → GENERATED → RENDERING → DONE）
const (
	ProjectStatusCreated   = "CREATED"   // 项目已创建，未开始
	ProjectStatusScraped   = "SCRAPED"   // 源文本已抓取/提取
	ProjectStatusScripted  = "SCRIPTED"  // 分镜脚本已生成（scenes 已写入 DB）
	ProjectStatusGenerated = "GENERATED" // 配音 + 布局 + 工作区已就绪
	ProjectStatusRendering = "RENDERING" // 视频渲染中
	ProjectStatusDone      = "DONE"      // 成片已上传
	ProjectStatusError     = "ERROR"     // 生成过程出错，可重试
)

const (
	TierFree = "free"
	TierPro  = "pro"
)

// Source markers for projects created from uploaded documents.
const (
	SourceUploadPending = "upload://pending"
	SourceUploadReady   = "upload://documents"
)

const VoiceNone = "none"

type Project struct {
	ID              string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OwnerID         string    `gorm:"type:varchar(64);index" json:"ownerId"`
	Tier            string    `gorm:"type:varchar(16);index" json:"tier"`
	Name            string    `json:"name"`
	SourceURL       string    `gorm:"type:varchar(1024)" json:"sourceUrl"`
	SourceText      string    `gorm:"type:text" json:"sourceText"`
	Status          string    `gorm:"type:varchar(32);index" json:"status"`
	ErrorMessage    string    `gorm:"type:text" json:"errorMessage"`
	TemplateID      string    `gorm:"type:varchar(64)" json:"templateId"`
	AspectRatio     string    `gorm:"type:varchar(16)" json:"aspectRatio"`
	PrimaryColor    string    `gorm:"type:varchar(16)" json:"primaryColor"`
	SecondaryColor  string    `gorm:"type:varchar(16)" json:"secondaryColor"`
	BackgroundColor string    `gorm:"type:varchar(16)" json:"backgroundColor"`
	TextColor       string    `gorm:"type:varchar(16)" json:"textColor"`
	VoiceGender     string    `gorm:"type:varchar(16)" json:"voiceGender"`
	VoiceAccent     string    `gorm:"type:varchar(32)" json:"voiceAccent"`
	RenderURL       string    `gorm:"type:varchar(1024)" json:"renderUrl"`
	RenderKey       string    `gorm:"type:varchar(512)" json:"renderKey"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

func (p *Project) IsUploadSource() bool {
	return strings.HasPrefix(p.SourceURL, "upload://")
}

// UploadPending reports whether the project is waiting for documents.
func (p *Project) UploadPending() bool {
	return p.SourceURL == SourceUploadPending
}

func (p *Project) VoiceEnabled() bool {
	return !strings.EqualFold(strings.TrimSpace(p.VoiceGender), VoiceNone)
}

// HasCachedRender reports whether a finished render can be served as is.
func (p *Project) HasCachedRender() bool {
	return p.RenderURL != ""
}

// Theme is the color set handed to the renderer.
type Theme struct {
	Primary    string `json:"primary"`
	Secondary  string `json:"secondary"`
	Background string `json:"background"`
	Text       string `json:"text"`
}

func (p *Project) Theme() Theme {
	t := Theme{
		Primary:    p.PrimaryColor,
		Secondary:  p.SecondaryColor,
		Background: p.BackgroundColor,
		Text:       p.TextColor,
	}
	if t.Primary == "" {
		t.Primary = "#6366f1"
	}
	if t.Secondary == "" {
		t.Secondary = "#22d3ee"
	}
	if t.Background == "" {
		t.Background = "#0f172a"
	}
	if t.Text == "" {
		t.Text = "#f8fafc"
	}
	return t
}
