package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"carbon-bridge/marketplace-backend/internal/auth"
	"carbon-bridge/marketplace-backend/internal/projects"
	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

const maxDocumentBytes = 25 << 20 // 25 MiB

// Service stores proof documents and resolves the doc:// references cited by
// tokenization requests.
type Service struct {
	repo     Repository
	projects projects.Repository
	store    ObjectStore
	logger   *zap.Logger
}

// ObjectStore is the subset of pkg/storage the service needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

func NewService(repo Repository, projectRepo projects.Repository, store ObjectStore, logger *zap.Logger) *Service {
	return &Service{repo: repo, projects: projectRepo, store: store, logger: logger}
}

// UploadInput carries one proof file. Body is streamed to the object store;
// the digest is computed on the way through.
type UploadInput struct {
	ProjectID   uuid.UUID
	FileName    string
	ContentType string
	SizeBytes   int64
	Body        io.Reader
	Metadata    map[string]interface{}
}

func (s *Service) Upload(ctx context.Context, actor auth.Actor, input UploadInput) (*ProofDocument, error) {
	if actor.Role != auth.RoleIssuer && actor.Role != auth.RoleAdmin {
		return nil, &apperrors.AuthorizationError{Reason: "issuer role required to upload proof documents"}
	}
	if input.FileName == "" {
		return nil, &apperrors.ValidationError{Field: "file", Reason: "file name is required"}
	}
	if input.SizeBytes <= 0 || input.SizeBytes > maxDocumentBytes {
		return nil, &apperrors.ValidationError{Field: "file", Reason: "file size must be between 1 byte and 25 MiB"}
	}

	if actor.Role == auth.RoleIssuer {
		owned, err := s.projects.OwnedBy(ctx, input.ProjectID, actor.UserID)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, &apperrors.AuthorizationError{Reason: "project does not belong to the issuer"}
		}
	}

	var metadata datatypes.JSON
	if input.Metadata != nil {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, &apperrors.ValidationError{Field: "metadata", Reason: "metadata is not serializable"}
		}
		metadata = datatypes.JSON(raw)
	}

	doc := &ProofDocument{
		ID:          uuid.New(),
		ProjectID:   input.ProjectID,
		FileName:    input.FileName,
		ContentType: input.ContentType,
		SizeBytes:   input.SizeBytes,
		Metadata:    metadata,
		UploadedBy:  actor.UserID,
	}
	doc.StorageKey = fmt.Sprintf("proofs/%s/%s", input.ProjectID, doc.ID)

	hasher := sha256.New()
	body := io.TeeReader(io.LimitReader(input.Body, maxDocumentBytes), hasher)
	if err := s.store.Put(ctx, doc.StorageKey, body, input.ContentType); err != nil {
		return nil, fmt.Errorf("failed to store proof document: %w", err)
	}
	doc.SHA256 = hex.EncodeToString(hasher.Sum(nil))

	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info("proof document stored",
		zap.String("document_id", doc.ID.String()),
		zap.String("project_id", input.ProjectID.String()),
		zap.Int64("size_bytes", input.SizeBytes))
	return doc, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ProofDocument, error) {
	return s.repo.GetByID(ctx, id)
}

// Open returns the stored bytes for download.
func (s *Service) Open(ctx context.Context, id uuid.UUID) (*ProofDocument, io.ReadCloser, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if doc == nil {
		return nil, nil, nil
	}
	body, err := s.store.Get(ctx, doc.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open proof document: %w", err)
	}
	return doc, body, nil
}

func (s *Service) ListByProject(ctx context.Context, projectID uuid.UUID) ([]ProofDocument, error) {
	return s.repo.ListByProject(ctx, projectID)
}

// Resolve checks that a doc:// reference names a stored document for the
// given project. Other schemes (ipfs://, https://) pass through untouched.
func (s *Service) Resolve(ctx context.Context, ref string, projectID uuid.UUID) error {
	const scheme = "doc://"
	if len(ref) < len(scheme) || ref[:len(scheme)] != scheme {
		return nil
	}
	id, err := uuid.Parse(ref[len(scheme):])
	if err != nil {
		return &apperrors.ValidationError{Field: "proof_document_ref", Reason: "malformed document reference"}
	}
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil || doc.ProjectID != projectID {
		return &apperrors.ValidationError{Field: "proof_document_ref", Reason: "document not found for project"}
	}
	return nil
}
