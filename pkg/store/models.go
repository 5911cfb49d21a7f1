package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ProjectModel struct {
	ID            string `gorm:"primaryKey"`
	OwnerID       string `gorm:"not null;index"`
	Name          string `gorm:"not null"`
	ImportStatus  string
	ExportStatus  string
	ExportRepoURL string
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type FileModel struct {
	ID         string  `gorm:"primaryKey"`
	ProjectID  string  `gorm:"not null;index:idx_file_siblings"`
	ParentID   *string `gorm:"index:idx_file_siblings"`
	Name       string  `gorm:"not null"`
	Type       string  `gorm:"not null"`
	Content    string  `gorm:"type:text"`
	StorageKey string
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type ConversationModel struct {
	ID        string    `gorm:"primaryKey"`
	ProjectID string    `gorm:"not null;index"`
	Title     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID             string         `gorm:"primaryKey"`
	ConversationID string         `gorm:"not null;index"`
	Role           string         `gorm:"not null"`
	Content        string         `gorm:"type:text"`
	Status         string         `gorm:"not null"`
	ToolTrace      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;index"`
	UpdatedAt      time.Time      `gorm:"not null"`
}
