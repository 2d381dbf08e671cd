package models

import (
	"time"

	"ExplainerVideo-server/layout"
)

// MinSceneDuration is the floor applied to every derived scene duration.
const MinSceneDuration = 5.0

type Scene struct {
	ID                string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID         string     `gorm:"type:varchar(64);index" json:"projectId"`
	Order             int        `gorm:"column:scene_order" json:"order"`
	Title             string     `json:"title"`
	Narration         string     `gorm:"type:text" json:"narration"`
	VisualDescription string     `gorm:"type:text" json:"visualDescription"`
	Images            StringList `gorm:"type:text" json:"images"`
	Layout            *LayoutDoc `gorm:"type:text" json:"layout"`
	VoiceoverPath     string     `gorm:"type:varchar(1024)" json:"voiceoverPath"`
	DurationSeconds   float64    `json:"durationSeconds"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func (Scene) TableName() string {
	return "scene"
}

func (s *Scene) Descriptor() *layout.Descriptor {
	return s.Layout.Descriptor()
}

func (s *Scene) SetDescriptor(d *layout.Descriptor) {
	s.Layout = NewLayoutDoc(d)
}

// Renumber rewrites Order to 1..N following the slice order.
func Renumber(scenes []Scene) {
	for i := range scenes {
		scenes[i].Order = i + 1
	}
}
