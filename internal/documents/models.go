package documents

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProofDocument is an uploaded evidence file backing a tokenization request.
// The bytes live in the object store; the row carries the digest and any
// verifier-supplied metadata.
type ProofDocument struct {
	ID          uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	ProjectID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"project_id"`
	FileName    string         `gorm:"not null" json:"file_name"`
	ContentType string         `gorm:"not null" json:"content_type"`
	SizeBytes   int64          `gorm:"not null" json:"size_bytes"`
	StorageKey  string         `gorm:"uniqueIndex;not null" json:"-"`
	SHA256      string         `gorm:"not null" json:"sha256"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
	UploadedBy  uuid.UUID      `gorm:"type:uuid;not null" json:"uploaded_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (d *ProofDocument) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Ref is the stable reference issuers cite in tokenization requests.
func (d *ProofDocument) Ref() string {
	return "doc://" + d.ID.String()
}
