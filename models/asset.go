package models

import "time"

const (
	AssetKindImage    = "image"
	AssetKindAudio    = "audio"
	AssetKindDocument = "document"
	AssetKindVideo    = "video"
)

// Asset 项目媒体文件（本地文件 + 可选对象存储副本）
type Asset struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID string    `gorm:"type:varchar(64);index" json:"projectId"`
	SceneID   string    `gorm:"type:varchar(64)" json:"sceneId,omitempty"`
	Kind      string    `gorm:"type:varchar(16)" json:"kind"`
	Filename  string    `json:"filename"`
	LocalPath string    `gorm:"type:varchar(1024)" json:"localPath"`
	SourceURL string    `gorm:"type:varchar(1024)" json:"sourceUrl,omitempty"`
	ObjectKey string    `gorm:"type:varchar(512)" json:"objectKey,omitempty"`
	ObjectURL string    `gorm:"type:varchar(1024)" json:"objectUrl,omitempty"`
	Excluded  bool      `json:"excluded"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Asset) TableName() string {
	return "asset"
}

// IncludedImages filters assets down to images not excluded by the user.
func IncludedImages(assets []Asset) []Asset {
	var out []Asset
	for _, a := range assets {
		if a.Kind == AssetKindImage && !a.Excluded {
			out = append(out, a)
		}
	}
	return out
}
