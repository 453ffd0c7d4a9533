package models

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Dataset is the summary of an uploaded CSV as returned by the list endpoint.
type Dataset struct {
	ID         int       `json:"id" msgpack:"id" yaml:"id"`
	File       string    `json:"file" msgpack:"file" yaml:"file"` // server-side path or URL of the stored CSV
	UploadedAt time.Time `json:"uploaded_at" msgpack:"uploaded_at" yaml:"uploaded_at"`
}

// FileName returns the last path segment of the stored file.
func (d Dataset) FileName() string {
	name := strings.TrimRight(d.File, "/")
	if name == "" {
		return ""
	}
	return path.Base(name)
}

// Label is the display title used in dataset lists.
func (d Dataset) Label() string {
	return fmt.Sprintf("Dataset #%d", d.ID)
}
