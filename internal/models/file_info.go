package models

import "time"

// FileInfo represents metadata about a file presented to the user
// (a downloaded report or an export).
type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	SavedAt time.Time `json:"savedAt"`
}
