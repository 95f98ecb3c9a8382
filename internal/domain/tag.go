package domain

import "time"

// Tag represents a reusable tag. EmbedPointID is set once the tag's name
// embedding has been stored in the vector collection.
type Tag struct {
	ID           string    `gorm:"type:text;primaryKey" json:"id"`
	Name         string    `gorm:"type:text;not null;uniqueIndex:idx_tags_name_category" json:"name"`
	Category     string    `gorm:"type:text;not null;uniqueIndex:idx_tags_name_category" json:"category"`
	EmbedPointID string    `gorm:"type:text" json:"embed_point_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for Tag.
func (Tag) TableName() string {
	return "tags"
}

// TagPhoto links a tag to a photo within a category.
type TagPhoto struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	PhotoID   string    `gorm:"type:text;not null;index:idx_tag_photos_photo" json:"photo_id"`
	TagID     string    `gorm:"type:text;not null;index:idx_tag_photos_tag" json:"tag_id"`
	Category  string    `gorm:"type:text;not null" json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for TagPhoto.
func (TagPhoto) TableName() string {
	return "tag_photos"
}
