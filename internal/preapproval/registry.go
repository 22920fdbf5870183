package preapproval

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-bridge/marketplace-backend/internal/assets"
	"carbon-bridge/marketplace-backend/internal/auth"
	"carbon-bridge/marketplace-backend/internal/ledger"
	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

// allowanceFactor sizes the requested allowance as a multiple of total supply
// so repeated swaps never exhaust the grant.
const allowanceFactor = 100

// DelegationSigner produces a signed delegation envelope using a key the
// issuer controls elsewhere, e.g. a capability-scoped signing service. The
// marketplace never receives raw key material; when no signer is configured
// the manual fallback command is the only path.
type DelegationSigner interface {
	SignApproval(ctx context.Context, issuerAddress string, call ledger.ContractCall) (envelopeXDR string, err error)
}

// AssetGrant reports the grant state of one asset in an ApproveAll sweep.
type AssetGrant struct {
	AssetID         uuid.UUID `json:"asset_id"`
	AssetCode       string    `json:"asset_code"`
	Status          Status    `json:"status"`
	ErrorDetail     *string   `json:"error_detail,omitempty"`
	FallbackCommand string    `json:"fallback_command,omitempty"`
}

// Registry owns the delegation-grant lifecycle for all assets.
type Registry struct {
	repo         Repository
	assetRepo    assets.Repository
	gateway      ledger.Gateway
	signer       DelegationSigner
	controllerID string
	network      string
	logger       *zap.Logger
}

func NewRegistry(repo Repository, assetRepo assets.Repository, gateway ledger.Gateway, signer DelegationSigner, controllerID, network string, logger *zap.Logger) *Registry {
	return &Registry{
		repo:         repo,
		assetRepo:    assetRepo,
		gateway:      gateway,
		signer:       signer,
		controllerID: controllerID,
		network:      network,
		logger:       logger,
	}
}

// StatusFor returns the grant status of an asset; NONE when no attempt has
// been recorded.
func (r *Registry) StatusFor(ctx context.Context, assetID uuid.UUID) (Status, *PreApproval, error) {
	record, err := r.repo.GetByAsset(ctx, assetID)
	if err != nil {
		return "", nil, err
	}
	if record == nil {
		return StatusNone, nil, nil
	}
	return record.Status, record, nil
}

// RequireActive gates swap initiation: only an ACTIVE grant lets the
// intermediary move the issuer's tokens.
func (r *Registry) RequireActive(ctx context.Context, asset *assets.Asset) error {
	status, _, err := r.StatusFor(ctx, asset.ID)
	if err != nil {
		return err
	}
	if status != StatusActive {
		return &apperrors.NotApprovedError{AssetCode: asset.AssetCode, Status: string(status)}
	}
	return nil
}

// TryAutoApprove runs a grant attempt right after a mint. Failures are logged
// and recorded, never propagated: deployment must not fail on delegation.
func (r *Registry) TryAutoApprove(ctx context.Context, assetID uuid.UUID) {
	asset, err := r.assetRepo.GetByID(ctx, assetID)
	if err != nil || asset == nil {
		r.logger.Warn("auto pre-approval skipped, asset not loadable",
			zap.String("asset_id", assetID.String()), zap.Error(err))
		return
	}
	if _, err := r.attempt(ctx, asset); err != nil {
		r.logger.Warn("auto pre-approval did not activate",
			zap.String("asset_code", asset.AssetCode), zap.Error(err))
	}
}

// ApproveAll runs a grant attempt for every minted asset of the calling
// issuer and reports each outcome.
func (r *Registry) ApproveAll(ctx context.Context, actor auth.Actor) ([]AssetGrant, error) {
	if err := actor.RequireIssuer(); err != nil {
		return nil, err
	}

	minted, err := r.assetRepo.ListMinted(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	grants := make([]AssetGrant, 0, len(minted))
	for i := range minted {
		asset := &minted[i]
		record, err := r.attempt(ctx, asset)
		grant := AssetGrant{AssetID: asset.ID, AssetCode: asset.AssetCode}
		if err != nil {
			r.logger.Warn("pre-approval attempt failed",
				zap.String("asset_code", asset.AssetCode), zap.Error(err))
		}
		if record != nil {
			grant.Status = record.Status
			grant.ErrorDetail = record.ErrorDetail
			grant.FallbackCommand = record.FallbackCommand
		} else {
			grant.Status = StatusFailed
		}
		grants = append(grants, grant)
	}
	return grants, nil
}

// ApproveAsset runs a grant attempt for a single asset, admin only.
func (r *Registry) ApproveAsset(ctx context.Context, actor auth.Actor, assetID uuid.UUID) (*PreApproval, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	asset, err := r.assetRepo.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, &apperrors.ValidationError{Field: "asset_id", Reason: "asset not found"}
	}
	return r.attempt(ctx, asset)
}

// attempt moves one asset's grant forward. With a delegation signer the grant
// is signed and submitted now; without one the on-ledger allowance is checked,
// and an uncovered asset parks in PENDING behind the manual command.
// requiredAllowance sizes the grant, saturating at MaxInt64 for supplies
// large enough that the factored amount would wrap.
func requiredAllowance(supplyStroops int64) int64 {
	if supplyStroops > math.MaxInt64/allowanceFactor {
		return math.MaxInt64
	}
	return supplyStroops * allowanceFactor
}

func (r *Registry) attempt(ctx context.Context, asset *assets.Asset) (*PreApproval, error) {
	required := requiredAllowance(asset.TotalSupplyStroops)
	record := &PreApproval{
		AssetID:               asset.ID,
		ApprovedAmountStroops: required,
		FallbackCommand:       r.fallbackCommand(asset, required),
	}

	if r.signer == nil {
		covered, err := r.allowanceCovers(ctx, asset, required)
		if err != nil {
			return nil, err
		}
		if covered {
			record.Status = StatusActive
		} else {
			record.Status = StatusPending
		}
		return record, r.repo.Upsert(ctx, record)
	}

	call := r.approveCall(asset, required)
	envelope, err := r.signer.SignApproval(ctx, asset.IssuerAddress, call)
	if err == nil {
		_, err = r.gateway.SubmitSigned(ctx, envelope)
	}
	if err != nil {
		detail := err.Error()
		record.Status = StatusFailed
		record.ErrorDetail = &detail
		if upsertErr := r.repo.Upsert(ctx, record); upsertErr != nil {
			return nil, upsertErr
		}
		return record, err
	}

	record.Status = StatusActive
	return record, r.repo.Upsert(ctx, record)
}

// PollPending re-checks every PENDING grant against the live on-ledger
// allowance and activates the covered ones. Run on a schedule so a manually
// executed fallback command takes effect without operator intervention here.
func (r *Registry) PollPending(ctx context.Context) {
	pending, err := r.repo.ListByStatus(ctx, StatusPending)
	if err != nil {
		r.logger.Error("pre-approval poll failed to list pending grants", zap.Error(err))
		return
	}

	for i := range pending {
		record := &pending[i]
		asset, err := r.assetRepo.GetByID(ctx, record.AssetID)
		if err != nil || asset == nil {
			continue
		}
		covered, err := r.allowanceCovers(ctx, asset, record.ApprovedAmountStroops)
		if err != nil {
			r.logger.Warn("pre-approval poll could not read allowance",
				zap.String("asset_code", asset.AssetCode), zap.Error(err))
			continue
		}
		if !covered {
			continue
		}
		record.Status = StatusActive
		record.ErrorDetail = nil
		if err := r.repo.Upsert(ctx, record); err != nil {
			r.logger.Error("pre-approval poll failed to activate grant",
				zap.String("asset_code", asset.AssetCode), zap.Error(err))
			continue
		}
		r.logger.Info("delegation grant activated",
			zap.String("asset_code", asset.AssetCode),
			zap.Int64("allowance_stroops", record.ApprovedAmountStroops))
	}
}

func (r *Registry) allowanceCovers(ctx context.Context, asset *assets.Asset, required int64) (bool, error) {
	allowance, err := r.gateway.SimulateValue(ctx, ledger.ContractCall{
		ContractID: r.controllerID,
		Method:     "allowance",
		Args: []ledger.ContractArg{
			{Kind: ledger.ArgSymbol, Sym: asset.AssetCode},
			{Kind: ledger.ArgAddress, Address: asset.IssuerAddress},
			{Kind: ledger.ArgAddress, Address: r.gateway.IntermediaryAddress()},
		},
	})
	if err != nil {
		return false, err
	}
	return allowance >= required, nil
}

func (r *Registry) approveCall(asset *assets.Asset, amountStroops int64) ledger.ContractCall {
	return ledger.ContractCall{
		ContractID: r.controllerID,
		Method:     "approve",
		Args: []ledger.ContractArg{
			{Kind: ledger.ArgSymbol, Sym: asset.AssetCode},
			{Kind: ledger.ArgAddress, Address: asset.IssuerAddress},
			{Kind: ledger.ArgAddress, Address: r.gateway.IntermediaryAddress()},
			{Kind: ledger.ArgI128, I128: amountStroops},
		},
	}
}

// fallbackCommand is the CLI invocation the issuer runs from their own
// machine with their own key. The <ISSUER_KEY> placeholder is theirs to fill;
// it never transits this service.
func (r *Registry) fallbackCommand(asset *assets.Asset, amountStroops int64) string {
	return fmt.Sprintf(
		"stellar contract invoke --id %s --source-account <ISSUER_KEY> --network %s -- approve --asset %s --from %s --spender %s --amount %d",
		r.controllerID, r.network, asset.AssetCode, asset.IssuerAddress,
		r.gateway.IntermediaryAddress(), amountStroops)
}
