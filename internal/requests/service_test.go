package requests

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-bridge/marketplace-backend/internal/auth"
	"carbon-bridge/marketplace-backend/internal/projects"
	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, req *TokenizationRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, id uuid.UUID) (*TokenizationRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TokenizationRequest), args.Error(1)
}

func (m *MockRepository) ListByStatus(ctx context.Context, status RequestStatus) ([]TokenizationRequest, error) {
	args := m.Called(ctx, status)
	return args.Get(0).([]TokenizationRequest), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, req *TokenizationRequest) error {
	args := m.Called(ctx, req)
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

// fakeDeployer drives the approve path without a ledger.
type fakeDeployer struct {
	assetID    uuid.UUID
	contractID string
	err        error
	markMinted func(req *TokenizationRequest)
	calls      int
}

func (f *fakeDeployer) Deploy(ctx context.Context, req *TokenizationRequest) (uuid.UUID, string, error) {
	f.calls++
	if f.err != nil {
		return uuid.Nil, "", f.err
	}
	if f.markMinted != nil {
		f.markMinted(req)
	}
	return f.assetID, f.contractID, nil
}

func issuerActor() auth.Actor {
	return auth.Actor{UserID: uuid.New(), Wallet: "GISSUER", Role: auth.RoleIssuer}
}

func adminActor() auth.Actor {
	return auth.Actor{UserID: uuid.New(), Wallet: "GADMIN", Role: auth.RoleAdmin}
}

func validInput(projectID uuid.UUID) SubmitInput {
	return SubmitInput{
		ProjectID:        projectID,
		VintageYear:      2023,
		QuantityStroops:  10_000_000_000,
		ProofDocumentRef: "ipfs://QmProof",
	}
}

func TestSubmitCreatesPendingRequest(t *testing.T) {
	repo := new(MockRepository)
	projectRepo := new(mockProjectRepo)
	actor := issuerActor()
	projectID := uuid.New()

	projectRepo.On("OwnedBy", mock.Anything, projectID, actor.UserID).Return(true, nil)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*requests.TokenizationRequest")).Return(nil)

	service := NewService(repo, projectRepo, &fakeDeployer{}, zap.NewNop())
	req, err := service.Submit(context.Background(), actor, validInput(projectID))

	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, actor.UserID, req.IssuerID)
	repo.AssertExpectations(t)
}

func TestSubmitValidation(t *testing.T) {
	service := NewService(new(MockRepository), new(mockProjectRepo), &fakeDeployer{}, zap.NewNop())
	actor := issuerActor()
	projectID := uuid.New()

	cases := []struct {
		name   string
		mutate func(*SubmitInput)
	}{
		{"vintage year too early", func(in *SubmitInput) { in.VintageYear = 1999 }},
		{"vintage year in the future", func(in *SubmitInput) { in.VintageYear = 2300 }},
		{"zero quantity", func(in *SubmitInput) { in.QuantityStroops = 0 }},
		{"negative price", func(in *SubmitInput) { p := int64(-1); in.PricePerUnitStroops = &p }},
		{"missing proof document", func(in *SubmitInput) { in.ProofDocumentRef = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput(projectID)
			tc.mutate(&input)
			_, err := service.Submit(context.Background(), actor, input)
			var validation *apperrors.ValidationError
			assert.ErrorAs(t, err, &validation)
		})
	}
}

func TestSubmitRequiresIssuerRole(t *testing.T) {
	service := NewService(new(MockRepository), new(mockProjectRepo), &fakeDeployer{}, zap.NewNop())
	actor := auth.Actor{UserID: uuid.New(), Role: auth.RoleUser}

	_, err := service.Submit(context.Background(), actor, validInput(uuid.New()))
	var authz *apperrors.AuthorizationError
	assert.ErrorAs(t, err, &authz)
}

func TestSubmitRejectsForeignProject(t *testing.T) {
	repo := new(MockRepository)
	projectRepo := new(mockProjectRepo)
	actor := issuerActor()
	projectID := uuid.New()

	projectRepo.On("OwnedBy", mock.Anything, projectID, actor.UserID).Return(false, nil)

	service := NewService(repo, projectRepo, &fakeDeployer{}, zap.NewNop())
	_, err := service.Submit(context.Background(), actor, validInput(projectID))
	var authz *apperrors.AuthorizationError
	assert.ErrorAs(t, err, &authz)
}

func TestRejectRequiresNote(t *testing.T) {
	repo := new(MockRepository)
	requestID := uuid.New()
	repo.On("GetByID", mock.Anything, requestID).
		Return(&TokenizationRequest{ID: requestID, Status: StatusPending}, nil)

	service := NewService(repo, new(mockProjectRepo), &fakeDeployer{}, zap.NewNop())
	_, err := service.Review(context.Background(), adminActor(), requestID, DecisionReject, "")
	var validation *apperrors.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestRejectPersistsNote(t *testing.T) {
	repo := new(MockRepository)
	requestID := uuid.New()
	repo.On("GetByID", mock.Anything, requestID).
		Return(&TokenizationRequest{ID: requestID, Status: StatusPending}, nil)
	repo.On("Update", mock.Anything, mock.MatchedBy(func(req *TokenizationRequest) bool {
		return req.Status == StatusRejected && req.AdminNote != nil && *req.AdminNote == "proof does not match registry"
	})).Return(nil)

	service := NewService(repo, new(mockProjectRepo), &fakeDeployer{}, zap.NewNop())
	result, err := service.Review(context.Background(), adminActor(), requestID, DecisionReject, "proof does not match registry")

	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Request.Status)
	repo.AssertExpectations(t)
}

func TestReviewRequiresAdmin(t *testing.T) {
	service := NewService(new(MockRepository), new(mockProjectRepo), &fakeDeployer{}, zap.NewNop())
	_, err := service.Review(context.Background(), issuerActor(), uuid.New(), DecisionApprove, "")
	var authz *apperrors.AuthorizationError
	assert.ErrorAs(t, err, &authz)
}

func TestReviewRejectsNonPending(t *testing.T) {
	repo := new(MockRepository)
	requestID := uuid.New()
	repo.On("GetByID", mock.Anything, requestID).
		Return(&TokenizationRequest{ID: requestID, Status: StatusMinted}, nil)

	service := NewService(repo, new(mockProjectRepo), &fakeDeployer{}, zap.NewNop())
	_, err := service.Review(context.Background(), adminActor(), requestID, DecisionApprove, "")
	var state *apperrors.StateError
	assert.ErrorAs(t, err, &state)
}

func TestApproveDeploysAndMints(t *testing.T) {
	repo := new(MockRepository)
	requestID := uuid.New()
	assetID := uuid.New()
	pending := &TokenizationRequest{ID: requestID, Status: StatusPending}
	contractID := "CCONTRACT"

	deployer := &fakeDeployer{assetID: assetID, contractID: contractID}

	repo.On("GetByID", mock.Anything, requestID).Return(pending, nil).Once()
	repo.On("Update", mock.Anything, mock.MatchedBy(func(req *TokenizationRequest) bool {
		return req.Status == StatusApproved
	})).Return(nil)
	// Deploy flips the row to MINTED inside its own transaction; the service
	// re-reads to report the final state
	repo.On("GetByID", mock.Anything, requestID).
		Return(&TokenizationRequest{ID: requestID, Status: StatusMinted, ContractID: &contractID}, nil)

	service := NewService(repo, new(mockProjectRepo), deployer, zap.NewNop())
	result, err := service.Review(context.Background(), adminActor(), requestID, DecisionApprove, "")

	require.NoError(t, err)
	assert.Equal(t, StatusMinted, result.Request.Status)
	assert.Equal(t, assetID, *result.AssetID)
	assert.Equal(t, contractID, *result.ContractID)
	assert.Equal(t, 1, deployer.calls)
}

func TestApproveDeploymentFailureKeepsApproved(t *testing.T) {
	repo := new(MockRepository)
	requestID := uuid.New()
	pending := &TokenizationRequest{ID: requestID, Status: StatusPending}
	deployErr := &apperrors.LedgerUnavailableError{Op: "contract invoke", Err: errors.New("rpc timeout")}
	deployer := &fakeDeployer{err: deployErr}

	repo.On("GetByID", mock.Anything, requestID).Return(pending, nil)
	var noted *TokenizationRequest
	repo.On("Update", mock.Anything, mock.AnythingOfType("*requests.TokenizationRequest")).
		Run(func(args mock.Arguments) { noted = args.Get(1).(*TokenizationRequest) }).
		Return(nil)

	service := NewService(repo, new(mockProjectRepo), deployer, zap.NewNop())
	_, err := service.Review(context.Background(), adminActor(), requestID, DecisionApprove, "")

	require.Error(t, err)
	var unavailable *apperrors.LedgerUnavailableError
	assert.ErrorAs(t, err, &unavailable)

	// The request stays APPROVED with the failure recorded; MINTED is only
	// ever the effect of a successful deployment
	require.NotNil(t, noted)
	assert.Equal(t, StatusApproved, noted.Status)
	require.NotNil(t, noted.AdminNote)
	assert.Contains(t, *noted.AdminNote, "deployment failed")
}

func TestRetryDeploymentOnlyFromApproved(t *testing.T) {
	repo := new(MockRepository)
	requestID := uuid.New()
	repo.On("GetByID", mock.Anything, requestID).
		Return(&TokenizationRequest{ID: requestID, Status: StatusPending}, nil)

	service := NewService(repo, new(mockProjectRepo), &fakeDeployer{}, zap.NewNop())
	_, err := service.RetryDeployment(context.Background(), adminActor(), requestID)
	var state *apperrors.StateError
	assert.ErrorAs(t, err, &state)
}

func TestRetryDeploymentRerunsDeployer(t *testing.T) {
	repo := new(MockRepository)
	requestID := uuid.New()
	assetID := uuid.New()
	contractID := "CCONTRACT"
	approved := &TokenizationRequest{ID: requestID, Status: StatusApproved}
	deployer := &fakeDeployer{assetID: assetID, contractID: contractID}

	repo.On("GetByID", mock.Anything, requestID).Return(approved, nil).Once()
	repo.On("GetByID", mock.Anything, requestID).
		Return(&TokenizationRequest{ID: requestID, Status: StatusMinted, ContractID: &contractID}, nil)

	service := NewService(repo, new(mockProjectRepo), deployer, zap.NewNop())
	result, err := service.RetryDeployment(context.Background(), adminActor(), requestID)

	require.NoError(t, err)
	assert.Equal(t, StatusMinted, result.Request.Status)
	assert.Equal(t, 1, deployer.calls)
}
