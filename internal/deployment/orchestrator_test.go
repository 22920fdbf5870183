package deployment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-bridge/marketplace-backend/internal/assets"
	"carbon-bridge/marketplace-backend/internal/ledger"
	"carbon-bridge/marketplace-backend/internal/projects"
	"carbon-bridge/marketplace-backend/internal/requests"
	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

type mockAssetRepo struct {
	mock.Mock
}

func (m *mockAssetRepo) GetByID(ctx context.Context, id uuid.UUID) (*assets.Asset, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*assets.Asset), args.Error(1)
}

func (m *mockAssetRepo) GetByCode(ctx context.Context, code string) (*assets.Asset, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*assets.Asset), args.Error(1)
}

func (m *mockAssetRepo) GetByOriginRequest(ctx context.Context, requestID uuid.UUID) (*assets.Asset, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*assets.Asset), args.Error(1)
}

func (m *mockAssetRepo) List(ctx context.Context) ([]assets.Asset, error) {
	args := m.Called(ctx)
	return args.Get(0).([]assets.Asset), args.Error(1)
}

func (m *mockAssetRepo) ListByIssuer(ctx context.Context, issuerID uuid.UUID) ([]assets.Asset, error) {
	args := m.Called(ctx, issuerID)
	return args.Get(0).([]assets.Asset), args.Error(1)
}

func (m *mockAssetRepo) ListMinted(ctx context.Context, issuerID uuid.UUID) ([]assets.Asset, error) {
	args := m.Called(ctx, issuerID)
	return args.Get(0).([]assets.Asset), args.Error(1)
}

func (m *mockAssetRepo) Reserve(ctx context.Context, assetID uuid.UUID, amountStroops int64) (bool, error) {
	args := m.Called(ctx, assetID, amountStroops)
	return args.Bool(0), args.Error(1)
}

func (m *mockAssetRepo) Release(ctx context.Context, assetID uuid.UUID, amountStroops int64) error {
	args := m.Called(ctx, assetID, amountStroops)
	return args.Error(0)
}

func (m *mockAssetRepo) Finalize(ctx context.Context, assetID uuid.UUID, amountStroops int64) error {
	args := m.Called(ctx, assetID, amountStroops)
	return args.Error(0)
}

type mockProjectRepo struct {
	mock.Mock
}

func (m *mockProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*projects.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*projects.Project), args.Error(1)
}

func (m *mockProjectRepo) OwnedBy(ctx context.Context, id, issuerID uuid.UUID) (bool, error) {
	args := m.Called(ctx, id, issuerID)
	return args.Bool(0), args.Error(1)
}

type fakeInvoker struct {
	calls []ledger.ContractCall
	err   error
}

func (f *fakeInvoker) Invoke(ctx context.Context, call ledger.ContractCall) (*ledger.Transaction, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	return &ledger.Transaction{
		Hash:       "hash",
		Successful: true,
		Result:     "CDEPLOYEDAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
	}, nil
}

type fakeIssuers struct {
	wallet string
}

func (f *fakeIssuers) WalletAddress(ctx context.Context, issuerID uuid.UUID) (string, error) {
	return f.wallet, nil
}

func TestAssetCode(t *testing.T) {
	assert.Equal(t, "mangrove_cr_2023", AssetCode("mangrove-cr", 2023))
	assert.Equal(t, "forest_2020", AssetCode("forest", 2020))
}

func TestDeployConflictsOnDuplicateCode(t *testing.T) {
	assetRepo := new(mockAssetRepo)
	projectRepo := new(mockProjectRepo)
	req := &requests.TokenizationRequest{
		ID:              uuid.New(),
		ProjectID:       uuid.New(),
		IssuerID:        uuid.New(),
		VintageYear:     2023,
		QuantityStroops: 10_000_000_000,
		Status:          requests.StatusApproved,
	}

	projectRepo.On("GetByID", mock.Anything, req.ProjectID).
		Return(&projects.Project{ID: req.ProjectID, Identifier: "mangrove-cr"}, nil)
	// Same code minted from a different request: duplicate series
	assetRepo.On("GetByCode", mock.Anything, "mangrove_cr_2023").
		Return(&assets.Asset{ID: uuid.New(), AssetCode: "mangrove_cr_2023", OriginRequestID: uuid.New()}, nil)

	orchestrator := NewOrchestrator(nil, assetRepo, projectRepo, &fakeInvoker{}, &fakeIssuers{}, "CCONTROLLER", zap.NewNop())
	_, _, err := orchestrator.Deploy(context.Background(), req)

	var conflict *apperrors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "mangrove_cr_2023", conflict.Key)
}

func TestDeployIdempotentForSameRequest(t *testing.T) {
	assetRepo := new(mockAssetRepo)
	projectRepo := new(mockProjectRepo)
	req := &requests.TokenizationRequest{
		ID:          uuid.New(),
		ProjectID:   uuid.New(),
		VintageYear: 2023,
	}
	existingID := uuid.New()
	contractID := "CEXISTING"

	projectRepo.On("GetByID", mock.Anything, req.ProjectID).
		Return(&projects.Project{ID: req.ProjectID, Identifier: "mangrove-cr"}, nil)
	assetRepo.On("GetByCode", mock.Anything, "mangrove_cr_2023").
		Return(&assets.Asset{ID: existingID, AssetCode: "mangrove_cr_2023", OriginRequestID: req.ID, ContractID: &contractID}, nil)

	invoker := &fakeInvoker{}
	orchestrator := NewOrchestrator(nil, assetRepo, projectRepo, invoker, &fakeIssuers{}, "CCONTROLLER", zap.NewNop())
	assetID, gotContract, err := orchestrator.Deploy(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, existingID, assetID)
	assert.Equal(t, contractID, gotContract)
	// Nothing resubmitted to the ledger
	assert.Empty(t, invoker.calls)
}

func TestDeployRegisterFailurePropagates(t *testing.T) {
	assetRepo := new(mockAssetRepo)
	projectRepo := new(mockProjectRepo)
	req := &requests.TokenizationRequest{
		ID:              uuid.New(),
		ProjectID:       uuid.New(),
		IssuerID:        uuid.New(),
		VintageYear:     2023,
		QuantityStroops: 5_000_000_000,
		Status:          requests.StatusApproved,
	}

	projectRepo.On("GetByID", mock.Anything, req.ProjectID).
		Return(&projects.Project{ID: req.ProjectID, Identifier: "forest"}, nil)
	assetRepo.On("GetByCode", mock.Anything, "forest_2023").Return(nil, nil)

	invoker := &fakeInvoker{err: &apperrors.LedgerRejectedError{Op: "register_asset", ResultCode: "tx_failed"}}
	orchestrator := NewOrchestrator(nil, assetRepo, projectRepo, invoker, &fakeIssuers{wallet: "GISSUER"}, "CCONTROLLER", zap.NewNop())
	_, _, err := orchestrator.Deploy(context.Background(), req)

	var rejected *apperrors.LedgerRejectedError
	require.ErrorAs(t, err, &rejected)
	// register_asset was attempted, mint never reached
	require.Len(t, invoker.calls, 1)
	assert.Equal(t, "register_asset", invoker.calls[0].Method)
}
