// Package deployment turns an approved tokenization request into a live
// on-ledger token series: it registers the series with the carbon controller
// contract, mints the approved supply to the issuer's holding account, and
// records the asset atomically with the request's MINTED transition.
package deployment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"carbon-bridge/marketplace-backend/internal/assets"
	"carbon-bridge/marketplace-backend/internal/ledger"
	"carbon-bridge/marketplace-backend/internal/projects"
	"carbon-bridge/marketplace-backend/internal/requests"
	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

// AutoApprover kicks off delegated-transfer pre-approval right after a mint.
// A failure here never fails the deployment; the issuer can re-run it later.
type AutoApprover interface {
	TryAutoApprove(ctx context.Context, assetID uuid.UUID)
}

// IssuerDirectory resolves an issuer's on-ledger holding account.
type IssuerDirectory interface {
	WalletAddress(ctx context.Context, issuerID uuid.UUID) (string, error)
}

// Invoker submits contract calls from the intermediary account; satisfied by
// the serialized ledger submitter.
type Invoker interface {
	Invoke(ctx context.Context, call ledger.ContractCall) (*ledger.Transaction, error)
}

// Orchestrator implements requests.Deployer.
type Orchestrator struct {
	db           *gorm.DB
	assetRepo    assets.Repository
	projectRepo  projects.Repository
	submitter    Invoker
	issuers      IssuerDirectory
	controllerID string
	approver     AutoApprover
	logger       *zap.Logger
}

func NewOrchestrator(db *gorm.DB, assetRepo assets.Repository, projectRepo projects.Repository, submitter Invoker, issuers IssuerDirectory, controllerID string, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		db:           db,
		assetRepo:    assetRepo,
		projectRepo:  projectRepo,
		submitter:    submitter,
		issuers:      issuers,
		controllerID: controllerID,
		logger:       logger,
	}
}

// SetAutoApprover wires the pre-approval registry in after construction; the
// two packages would otherwise depend on each other.
func (o *Orchestrator) SetAutoApprover(approver AutoApprover) {
	o.approver = approver
}

// AssetCode derives the deterministic series code. Hyphens become
// underscores: Soroban Symbols accept only alphanumerics and underscore.
func AssetCode(projectIdentifier string, vintageYear int) string {
	return strings.ReplaceAll(fmt.Sprintf("%s-%d", projectIdentifier, vintageYear), "-", "_")
}

// Deploy registers and mints the token series for an approved request, then
// creates the Asset and flips the request to MINTED in one transaction. A
// second tokenization of the same project and vintage is a ConflictError; a
// retry of the same request returns the existing asset.
func (o *Orchestrator) Deploy(ctx context.Context, req *requests.TokenizationRequest) (uuid.UUID, string, error) {
	project, err := o.projectRepo.GetByID(ctx, req.ProjectID)
	if err != nil {
		return uuid.Nil, "", err
	}
	if project == nil {
		return uuid.Nil, "", &apperrors.ValidationError{Field: "project_id", Reason: "project not found"}
	}

	code := AssetCode(project.Identifier, req.VintageYear)

	existing, err := o.assetRepo.GetByCode(ctx, code)
	if err != nil {
		return uuid.Nil, "", err
	}
	if existing != nil {
		if existing.OriginRequestID == req.ID {
			// Retry of an already-deployed request
			contractID := ""
			if existing.ContractID != nil {
				contractID = *existing.ContractID
			}
			return existing.ID, contractID, nil
		}
		return uuid.Nil, "", &apperrors.ConflictError{Resource: "asset", Key: code}
	}

	issuerWallet, err := o.issuers.WalletAddress(ctx, req.IssuerID)
	if err != nil {
		return uuid.Nil, "", err
	}

	contractID, err := o.registerSeries(ctx, code, req.VintageYear, issuerWallet)
	if err != nil {
		return uuid.Nil, "", err
	}

	if err := o.mintSupply(ctx, code, issuerWallet, req.QuantityStroops); err != nil {
		return uuid.Nil, "", err
	}

	asset := &assets.Asset{
		ProjectID:           req.ProjectID,
		VintageYear:         req.VintageYear,
		AssetCode:           code,
		IssuerAddress:       issuerWallet,
		ContractID:          &contractID,
		TotalSupplyStroops:  req.QuantityStroops,
		PricePerUnitStroops: req.PricePerUnitStroops,
		OriginRequestID:     req.ID,
	}

	// Asset creation and the MINTED transition succeed or fail together: no
	// asset may reference a request that is not MINTED, and no MINTED request
	// may lack an asset.
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(asset).Error; err != nil {
			return err
		}
		result := tx.Model(&requests.TokenizationRequest{}).
			Where("id = ? AND status = ?", req.ID, requests.StatusApproved).
			Updates(map[string]interface{}{
				"status":      requests.StatusMinted,
				"contract_id": contractID,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return &apperrors.StateError{Entity: "tokenization request", From: string(req.Status), To: string(requests.StatusMinted)}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, "", err
	}

	o.logger.Info("token series deployed",
		zap.String("asset_code", code),
		zap.String("contract_id", contractID),
		zap.Int64("supply_stroops", req.QuantityStroops))

	if o.approver != nil {
		o.approver.TryAutoApprove(ctx, asset.ID)
	}

	return asset.ID, contractID, nil
}

// registerSeries asks the carbon controller to deploy and register the
// per-series token contract; the controller returns its address.
func (o *Orchestrator) registerSeries(ctx context.Context, code string, vintageYear int, issuerWallet string) (string, error) {
	tx, err := o.submitter.Invoke(ctx, ledger.ContractCall{
		ContractID: o.controllerID,
		Method:     "register_asset",
		Args: []ledger.ContractArg{
			{Kind: ledger.ArgSymbol, Sym: code},
			{Kind: ledger.ArgU32, U32: uint32(vintageYear)},
			{Kind: ledger.ArgAddress, Address: issuerWallet},
			{Kind: ledger.ArgU32, U32: 7}, // token decimals
		},
	})
	if err != nil {
		return "", err
	}
	if tx.Result == "" {
		return "", &apperrors.LedgerRejectedError{
			Op:         "register_asset",
			ResultCode: "no_contract_address_returned",
		}
	}
	return tx.Result, nil
}

func (o *Orchestrator) mintSupply(ctx context.Context, code, issuerWallet string, amountStroops int64) error {
	_, err := o.submitter.Invoke(ctx, ledger.ContractCall{
		ContractID: o.controllerID,
		Method:     "mint_to_issuer",
		Args: []ledger.ContractArg{
			{Kind: ledger.ArgSymbol, Sym: code},
			{Kind: ledger.ArgAddress, Address: issuerWallet},
			{Kind: ledger.ArgI128, I128: amountStroops},
		},
	})
	return err
}
