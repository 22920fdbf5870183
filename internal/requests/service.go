package requests

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-bridge/marketplace-backend/internal/auth"
	"carbon-bridge/marketplace-backend/internal/projects"
	"carbon-bridge/marketplace-backend/pkg/apperrors"
	"carbon-bridge/marketplace-backend/pkg/workflows"
)

// Deployer activates the per-asset token contract for an approved request and
// flips the request to MINTED atomically with asset creation. Implemented by
// the deployment orchestrator; injected to keep the lifecycle manager free of
// ledger concerns.
type Deployer interface {
	Deploy(ctx context.Context, req *TokenizationRequest) (assetID uuid.UUID, contractID string, err error)
}

// ProofResolver checks that a proof document reference names a stored
// document belonging to the project. Implemented by the documents service.
type ProofResolver interface {
	Resolve(ctx context.Context, ref string, projectID uuid.UUID) error
}

// Notifier delivers review outcomes to the issuer. Implemented by the
// notifications service; optional.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, body string)
}

// SubmitInput carries a new tokenization application.
type SubmitInput struct {
	ProjectID           uuid.UUID
	VintageYear         int
	QuantityStroops     int64
	PricePerUnitStroops *int64
	SerialNumberStart   *string
	SerialNumberEnd     *string
	ProofDocumentRef    string
}

// ReviewResult reports the outcome of an admin review.
type ReviewResult struct {
	Request    *TokenizationRequest `json:"request"`
	AssetID    *uuid.UUID           `json:"asset_id,omitempty"`
	ContractID *string              `json:"contract_id,omitempty"`
}

// Service owns the tokenization-request state machine.
type Service struct {
	repo     Repository
	projects projects.Repository
	deployer Deployer
	proofs   ProofResolver
	notifier Notifier
	states   *workflows.StateMachine
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, projectRepo projects.Repository, deployer Deployer, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		projects: projectRepo,
		deployer: deployer,
		states:   workflows.NewRequestStateMachine(),
		logger:   logger,
		now:      time.Now,
	}
}

// SetProofResolver enables doc:// reference validation on submission.
func (s *Service) SetProofResolver(resolver ProofResolver) {
	s.proofs = resolver
}

// SetNotifier enables review-outcome notifications.
func (s *Service) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// Submit validates and creates a PENDING request on behalf of an issuer.
func (s *Service) Submit(ctx context.Context, actor auth.Actor, input SubmitInput) (*TokenizationRequest, error) {
	if err := actor.RequireIssuer(); err != nil {
		return nil, err
	}

	currentYear := s.now().Year()
	if input.VintageYear < 2000 || input.VintageYear > currentYear {
		return nil, &apperrors.ValidationError{
			Field:  "vintage_year",
			Reason: fmt.Sprintf("must be between 2000 and %d", currentYear),
		}
	}
	if input.QuantityStroops <= 0 {
		return nil, &apperrors.ValidationError{Field: "quantity", Reason: "must be greater than 0"}
	}
	if input.PricePerUnitStroops != nil && *input.PricePerUnitStroops <= 0 {
		return nil, &apperrors.ValidationError{Field: "price_per_unit", Reason: "must be greater than 0"}
	}
	if input.ProofDocumentRef == "" {
		return nil, &apperrors.ValidationError{Field: "proof_document_ref", Reason: "is required"}
	}

	owned, err := s.projects.OwnedBy(ctx, input.ProjectID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, &apperrors.AuthorizationError{Reason: "project does not belong to issuer"}
	}

	if s.proofs != nil {
		if err := s.proofs.Resolve(ctx, input.ProofDocumentRef, input.ProjectID); err != nil {
			return nil, err
		}
	}

	req := &TokenizationRequest{
		IssuerID:            actor.UserID,
		ProjectID:           input.ProjectID,
		VintageYear:         input.VintageYear,
		QuantityStroops:     input.QuantityStroops,
		PricePerUnitStroops: input.PricePerUnitStroops,
		SerialNumberStart:   input.SerialNumberStart,
		SerialNumberEnd:     input.SerialNumberEnd,
		ProofDocumentRef:    input.ProofDocumentRef,
		Status:              StatusPending,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("tokenization request submitted",
		zap.String("request_id", req.ID.String()),
		zap.String("issuer_id", actor.UserID.String()),
		zap.Int("vintage_year", req.VintageYear))

	return req, nil
}

// Review applies an admin decision to a PENDING request. APPROVE hands off to
// the deployment orchestrator synchronously; the request becomes MINTED only
// if deployment succeeds, and stays APPROVED with an error note otherwise.
func (s *Service) Review(ctx context.Context, actor auth.Actor, requestID uuid.UUID, decision ReviewDecision, note string) (*ReviewResult, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}

	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, &apperrors.ValidationError{Field: "request_id", Reason: "request not found"}
	}
	if req.Status != StatusPending {
		return nil, &apperrors.StateError{Entity: "tokenization request", From: string(req.Status)}
	}

	switch decision {
	case DecisionReject:
		if note == "" {
			return nil, &apperrors.ValidationError{Field: "note", Reason: "a note is required when rejecting"}
		}
		if !s.states.CanTransition(string(req.Status), string(StatusRejected)) {
			return nil, &apperrors.StateError{Entity: "tokenization request", From: string(req.Status), To: string(StatusRejected)}
		}
		req.Status = StatusRejected
		req.AdminNote = &note
		if err := s.repo.Update(ctx, req); err != nil {
			return nil, err
		}
		s.logger.Info("tokenization request rejected", zap.String("request_id", req.ID.String()))
		if s.notifier != nil {
			s.notifier.Notify(ctx, req.IssuerID, "request_rejected",
				"Tokenization request rejected", note)
		}
		return &ReviewResult{Request: req}, nil

	case DecisionApprove:
		req.Status = StatusApproved
		if note != "" {
			req.AdminNote = &note
		}
		if err := s.repo.Update(ctx, req); err != nil {
			return nil, err
		}
		return s.deploy(ctx, req)

	default:
		return nil, &apperrors.ValidationError{Field: "decision", Reason: "must be APPROVE or REJECT"}
	}
}

// RetryDeployment re-runs deployment for a request stuck in APPROVED after a
// failed attempt. Idempotent: an already-deployed request returns its asset.
func (s *Service) RetryDeployment(ctx context.Context, actor auth.Actor, requestID uuid.UUID) (*ReviewResult, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}

	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, &apperrors.ValidationError{Field: "request_id", Reason: "request not found"}
	}
	if req.Status != StatusApproved {
		return nil, &apperrors.StateError{Entity: "tokenization request", From: string(req.Status), To: string(StatusMinted)}
	}
	return s.deploy(ctx, req)
}

func (s *Service) deploy(ctx context.Context, req *TokenizationRequest) (*ReviewResult, error) {
	assetID, contractID, err := s.deployer.Deploy(ctx, req)
	if err != nil {
		// Deployment failure is recorded but the approval stands; the admin
		// can retry once the cause is resolved.
		errNote := fmt.Sprintf("deployment failed: %v", err)
		if req.AdminNote != nil && *req.AdminNote != "" {
			errNote = fmt.Sprintf("%s\n%s", *req.AdminNote, errNote)
		}
		req.AdminNote = &errNote
		if updateErr := s.repo.Update(ctx, req); updateErr != nil {
			s.logger.Error("failed to record deployment error",
				zap.String("request_id", req.ID.String()),
				zap.Error(updateErr))
		}
		s.logger.Error("contract deployment failed",
			zap.String("request_id", req.ID.String()),
			zap.Error(err))
		return nil, err
	}

	// Deploy marks the request MINTED in the same transaction as asset
	// creation; re-read for the caller.
	updated, err := s.repo.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("tokenization request minted",
		zap.String("request_id", req.ID.String()),
		zap.String("asset_id", assetID.String()),
		zap.String("contract_id", contractID))

	if s.notifier != nil {
		s.notifier.Notify(ctx, req.IssuerID, "request_minted",
			"Tokenization request approved",
			fmt.Sprintf("Your credits were minted under contract %s", contractID))
	}

	return &ReviewResult{Request: updated, AssetID: &assetID, ContractID: &contractID}, nil
}

// ListPending returns requests awaiting review, admin only.
func (s *Service) ListPending(ctx context.Context, actor auth.Actor) ([]TokenizationRequest, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	return s.repo.ListByStatus(ctx, StatusPending)
}
