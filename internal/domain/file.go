package domain

import "time"

// StoredFile is an uploaded source file kept under the storage root.
type StoredFile struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Ext         string    `json:"ext"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// SupportedExtensions lists the source formats accepted for upload and ingestion.
var SupportedExtensions = map[string]bool{
	"txt":  true,
	"docx": true,
}
