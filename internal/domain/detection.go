package domain

import "time"

// Detection represents one detected object region in a photo.
type Detection struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	PhotoID   string    `gorm:"type:text;not null;index:idx_detections_photo" json:"photo_id"`
	Label     string    `gorm:"type:text;not null" json:"label"`
	Score     float32   `json:"score"`
	Box       JSONMap   `gorm:"type:text" json:"box"` // x, y, w, h normalized to [0,1]
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Detection.
func (Detection) TableName() string {
	return "detections"
}
