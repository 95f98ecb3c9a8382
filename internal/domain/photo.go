package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// PhotoStatus represents the lifecycle status of a photo record.
// Values include PhotoStatusPending, PhotoStatusActive, and PhotoStatusFailed.
type PhotoStatus string

const (
	PhotoStatusPending PhotoStatus = "pending"
	PhotoStatusActive  PhotoStatus = "active"
	PhotoStatusFailed  PhotoStatus = "failed"
)

// JSONMap is a custom type for storing nested JSON documents in the database.
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan JSONMap")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// DeepMerge merges src into m. Nested maps are merged recursively, scalar
// values and arrays in src replace the existing value.
func (m JSONMap) DeepMerge(src map[string]interface{}) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]interface{})
		dstMap, dstIsMap := m[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			JSONMap(dstMap).DeepMerge(srcMap)
			continue
		}
		m[k] = v
	}
}

// Photo represents a photo in the system. Descriptions holds the nested
// AI-generated description document; ProcessID is the ownership association
// to the analyzer process currently responsible for the photo.
type Photo struct {
	ID            string      `gorm:"type:text;primaryKey" json:"id"`
	UserID        string      `gorm:"type:text;not null;index:idx_photos_user" json:"user_id"`
	StorageKey    string      `gorm:"type:text;not null" json:"storage_key"`
	OriginalName  string      `gorm:"type:text" json:"original_name,omitempty"`
	Format        string      `json:"format"`
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	FileSize      int64       `json:"file_size"`
	TakenAt       *time.Time  `json:"taken_at,omitempty"`
	ProcessID     *string     `gorm:"type:text;index:idx_photos_process" json:"process_id,omitempty"`
	Descriptions  JSONMap     `gorm:"type:text" json:"descriptions"`
	VisualPointID string      `gorm:"type:text" json:"visual_point_id,omitempty"`
	ColorPointID  string      `gorm:"type:text" json:"color_point_id,omitempty"`
	Status        PhotoStatus `gorm:"type:text;index:idx_photos_status;default:pending" json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Photo.
func (Photo) TableName() string {
	return "photos"
}

// PhotoDetail pairs a photo with its associated records, loaded for health
// evaluation and retry targeting.
type PhotoDetail struct {
	Photo      Photo
	TagPhotos  []TagPhoto
	Tags       map[string]Tag // keyed by tag ID
	Chunks     []DescriptionChunk
	Detections []Detection
}
