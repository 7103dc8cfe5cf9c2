// internal/model/document.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// DocumentState is the fast-path cache for one document. The content blob
// is opaque; the external document store remains the system of record.
type DocumentState struct {
	DocumentID     uuid.UUID `json:"documentId"`
	Content        string    `json:"content"`
	Version        int64     `json:"version"`
	LastModifiedBy uuid.UUID `json:"lastModifiedBy"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}
