package documents

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, doc *ProofDocument) error
	GetByID(ctx context.Context, id uuid.UUID) (*ProofDocument, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]ProofDocument, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, doc *ProofDocument) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *gormRepository) GetByID(ctx context.Context, id uuid.UUID) (*ProofDocument, error) {
	var doc ProofDocument
	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *gormRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]ProofDocument, error) {
	var docs []ProofDocument
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&docs).Error
	return docs, err
}
