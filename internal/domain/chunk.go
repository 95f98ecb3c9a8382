package domain

import "time"

// DescriptionChunk is one retrieval-sized segment of a photo's context
// description. EmbedPointID is set once the chunk embedding has been stored.
type DescriptionChunk struct {
	ID           string    `gorm:"type:text;primaryKey" json:"id"`
	PhotoID      string    `gorm:"type:text;not null;index:idx_chunks_photo" json:"photo_id"`
	Position     int       `gorm:"not null" json:"position"`
	Text         string    `gorm:"type:text;not null" json:"text"`
	EmbedPointID string    `gorm:"type:text" json:"embed_point_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for DescriptionChunk.
func (DescriptionChunk) TableName() string {
	return "description_chunks"
}
