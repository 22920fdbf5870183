package swap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-bridge/marketplace-backend/internal/assets"
	"carbon-bridge/marketplace-backend/internal/auth"
	"carbon-bridge/marketplace-backend/internal/ledger"
	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

const (
	buyerAddr        = "GBUYERAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	issuerAddr       = "GISSUERAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	intermediaryAddr = "GINTERMEDIARYAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
)

// fakeAssetRepo keeps one asset in memory and mirrors the conditional-update
// semantics of the SQL repository under a mutex. finalizeFails makes the next
// n Finalize calls error.
type fakeAssetRepo struct {
	mu            sync.Mutex
	asset         *assets.Asset
	finalizeFails int
}

func (f *fakeAssetRepo) GetByID(ctx context.Context, id uuid.UUID) (*assets.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.asset == nil || f.asset.ID != id {
		return nil, nil
	}
	copy := *f.asset
	return &copy, nil
}

func (f *fakeAssetRepo) GetByCode(ctx context.Context, code string) (*assets.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.asset == nil || f.asset.AssetCode != code {
		return nil, nil
	}
	copy := *f.asset
	return &copy, nil
}

func (f *fakeAssetRepo) GetByOriginRequest(ctx context.Context, requestID uuid.UUID) (*assets.Asset, error) {
	return nil, nil
}

func (f *fakeAssetRepo) List(ctx context.Context) ([]assets.Asset, error) { return nil, nil }
func (f *fakeAssetRepo) ListByIssuer(ctx context.Context, issuerID uuid.UUID) ([]assets.Asset, error) {
	return nil, nil
}
func (f *fakeAssetRepo) ListMinted(ctx context.Context, issuerID uuid.UUID) ([]assets.Asset, error) {
	return nil, nil
}

func (f *fakeAssetRepo) Reserve(ctx context.Context, assetID uuid.UUID, amountStroops int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.asset
	if a == nil || a.ID != assetID || a.Frozen {
		return false, nil
	}
	if a.TotalSupplyStroops-a.SoldStroops-a.ReservedStroops < amountStroops {
		return false, nil
	}
	a.ReservedStroops += amountStroops
	return true, nil
}

func (f *fakeAssetRepo) Release(ctx context.Context, assetID uuid.UUID, amountStroops int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.asset.ReservedStroops < amountStroops {
		return errors.New("release exceeds reservation")
	}
	f.asset.ReservedStroops -= amountStroops
	return nil
}

func (f *fakeAssetRepo) Finalize(ctx context.Context, assetID uuid.UUID, amountStroops int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizeFails > 0 {
		f.finalizeFails--
		return errors.New("deadlock detected")
	}
	if f.asset.ReservedStroops < amountStroops {
		return errors.New("finalize exceeds reservation")
	}
	f.asset.ReservedStroops -= amountStroops
	f.asset.SoldStroops += amountStroops
	return nil
}

// fakeAttemptRepo is an in-memory attempt store with the same conditional
// transition behavior as the SQL repository.
type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*SwapAttempt
}

func newFakeAttemptRepo() *fakeAttemptRepo {
	return &fakeAttemptRepo{attempts: make(map[uuid.UUID]*SwapAttempt)}
}

func (f *fakeAttemptRepo) Create(ctx context.Context, attempt *SwapAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	attempt.CreatedAt = time.Now()
	copy := *attempt
	f.attempts[attempt.ID] = &copy
	return nil
}

func (f *fakeAttemptRepo) GetByID(ctx context.Context, id uuid.UUID) (*SwapAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return nil, nil
	}
	copy := *a
	return &copy, nil
}

func (f *fakeAttemptRepo) FindOpen(ctx context.Context, assetID uuid.UUID, buyer string, paymentStroops *int64) (*SwapAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *SwapAttempt
	for _, a := range f.attempts {
		if a.AssetID == assetID && a.BuyerAddress == buyer && a.Open() {
			if paymentStroops != nil && a.PaymentStroops != *paymentStroops {
				continue
			}
			if newest == nil || a.CreatedAt.After(newest.CreatedAt) {
				newest = a
			}
		}
	}
	if newest == nil {
		return nil, nil
	}
	copy := *newest
	return &copy, nil
}

func (f *fakeAttemptRepo) FindLatest(ctx context.Context, assetID uuid.UUID, buyer string, paymentStroops *int64) (*SwapAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *SwapAttempt
	for _, a := range f.attempts {
		if a.AssetID == assetID && a.BuyerAddress == buyer {
			if paymentStroops != nil && a.PaymentStroops != *paymentStroops {
				continue
			}
			if newest == nil || a.CreatedAt.After(newest.CreatedAt) {
				newest = a
			}
		}
	}
	if newest == nil {
		return nil, nil
	}
	copy := *newest
	return &copy, nil
}

func (f *fakeAttemptRepo) Transition(ctx context.Context, id uuid.UUID, from, to Phase, set map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok || a.Phase != from {
		return false, nil
	}
	a.Phase = to
	for key, value := range set {
		switch key {
		case "payment_tx_hash":
			v := value.(string)
			a.PaymentTxHash = &v
		case "transfer_tx_hash":
			v := value.(string)
			a.TransferTxHash = &v
		case "payout_tx_hash":
			v := value.(string)
			a.PayoutTxHash = &v
		case "failure_detail":
			v := value.(string)
			a.FailureDetail = &v
		}
	}
	return true, nil
}

func (f *fakeAttemptRepo) ListExpired(ctx context.Context, now time.Time) ([]SwapAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SwapAttempt
	for _, a := range f.attempts {
		if (a.Phase == PhaseReserved || a.Phase == PhasePaymentPending) && a.ExpiresAt.Before(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

type allowAll struct{}

func (allowAll) RequireActive(ctx context.Context, asset *assets.Asset) error { return nil }

type denyAll struct{}

func (denyAll) RequireActive(ctx context.Context, asset *assets.Asset) error {
	return &apperrors.NotApprovedError{AssetCode: asset.AssetCode, Status: "NONE"}
}

// fakeGateway covers the reads the coordinator performs. findPayment is
// swappable per test.
type fakeGateway struct {
	findPayment func(from, to string, min int64) (*ledger.Payment, error)
}

func (f *fakeGateway) GetAccount(ctx context.Context, address string) (*ledger.Account, error) {
	return &ledger.Account{Address: address}, nil
}

func (f *fakeGateway) BuildPayment(ctx context.Context, source, destination string, amountStroops int64, memo string) (*ledger.PaymentDescriptor, error) {
	return &ledger.PaymentDescriptor{
		Source:        source,
		Destination:   destination,
		AmountStroops: amountStroops,
		Memo:          memo,
		EnvelopeXDR:   "AAAA",
	}, nil
}

func (f *fakeGateway) GetTransaction(ctx context.Context, hash string) (*ledger.Transaction, error) {
	return &ledger.Transaction{Hash: hash, Successful: true}, nil
}

func (f *fakeGateway) FindPayment(ctx context.Context, from, to string, minStroops int64) (*ledger.Payment, error) {
	if f.findPayment != nil {
		return f.findPayment(from, to, minStroops)
	}
	return nil, &apperrors.PaymentNotFoundError{Buyer: from, AmountStroops: minStroops}
}

func (f *fakeGateway) InvokeContract(ctx context.Context, call ledger.ContractCall) (*ledger.Transaction, error) {
	return &ledger.Transaction{Hash: "invoke", Successful: true}, nil
}

func (f *fakeGateway) SendPayment(ctx context.Context, destination string, amountStroops int64, memo string) (*ledger.Transaction, error) {
	return &ledger.Transaction{Hash: "payment", Successful: true}, nil
}

func (f *fakeGateway) SimulateValue(ctx context.Context, call ledger.ContractCall) (int64, error) {
	return 0, nil
}

func (f *fakeGateway) SubmitSigned(ctx context.Context, envelopeXDR string) (*ledger.Transaction, error) {
	return &ledger.Transaction{Hash: "signed", Successful: true}, nil
}

func (f *fakeGateway) IntermediaryAddress() string { return intermediaryAddr }

// fakeSubmitter counts submissions and lets tests fail the transfer leg.
type fakeSubmitter struct {
	mu        sync.Mutex
	invokeErr error
	payErr    error
	invokes   int
	payments  int
}

func (f *fakeSubmitter) Invoke(ctx context.Context, call ledger.ContractCall) (*ledger.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	f.invokes++
	return &ledger.Transaction{Hash: "transfer-hash", Successful: true}, nil
}

func (f *fakeSubmitter) Pay(ctx context.Context, destination string, amountStroops int64, memo string) (*ledger.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payErr != nil {
		return nil, f.payErr
	}
	f.payments++
	return &ledger.Transaction{Hash: "payout-hash", Successful: true}, nil
}

func testAsset(priceStroops *int64, supplyStroops int64) *assets.Asset {
	contractID := "CCONTRACTAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	return &assets.Asset{
		ID:                  uuid.New(),
		ProjectID:           uuid.New(),
		VintageYear:         2023,
		AssetCode:           "MANGROVE_2023",
		IssuerAddress:       issuerAddr,
		ContractID:          &contractID,
		TotalSupplyStroops:  supplyStroops,
		PricePerUnitStroops: priceStroops,
		OriginRequestID:     uuid.New(),
	}
}

func newTestCoordinator(assetRepo *fakeAssetRepo, attempts *fakeAttemptRepo, gate ApprovalGate, gateway ledger.Gateway, submitter Submitter) *Coordinator {
	return NewCoordinator(attempts, assetRepo, gate, gateway, submitter,
		"CCONTROLLERAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		10*time.Minute, zap.NewNop())
}

func buyerActor() auth.Actor {
	return auth.Actor{UserID: uuid.New(), Wallet: buyerAddr, Role: auth.RoleUser}
}

func units(n int64) int64 { return n * ledger.StroopsPerUnit }

func TestTokensFor(t *testing.T) {
	t.Run("price of 0.01 buys 1000 units for 10", func(t *testing.T) {
		price := int64(100_000) // 0.01 units in stroops
		tokens, err := TokensFor(units(10), &price)
		require.NoError(t, err)
		assert.Equal(t, units(1000), tokens)
	})

	t.Run("nil price is one to one", func(t *testing.T) {
		tokens, err := TokensFor(units(7), nil)
		require.NoError(t, err)
		assert.Equal(t, units(7), tokens)
	})

	t.Run("rounds down", func(t *testing.T) {
		price := int64(30_000_000) // 3 units
		tokens, err := TokensFor(units(10), &price)
		require.NoError(t, err)
		// 10/3 = 3.3333333...
		assert.Equal(t, int64(33_333_333), tokens)
	})

	t.Run("rejects non-positive payment", func(t *testing.T) {
		_, err := TokensFor(0, nil)
		var validation *apperrors.ValidationError
		assert.ErrorAs(t, err, &validation)
	})
}

func TestInitiateReservesAndIssuesEnvelope(t *testing.T) {
	price := units(1)
	assetRepo := &fakeAssetRepo{asset: testAsset(&price, units(1000))}
	attempts := newFakeAttemptRepo()
	coordinator := newTestCoordinator(assetRepo, attempts, allowAll{}, &fakeGateway{}, &fakeSubmitter{})

	result, err := coordinator.Initiate(context.Background(), buyerActor(), InitiateInput{
		AssetCode:      "MANGROVE_2023",
		BuyerAddress:   buyerAddr,
		PaymentStroops: units(10),
	})
	require.NoError(t, err)

	assert.Equal(t, PhasePaymentPending, result.Attempt.Phase)
	assert.Equal(t, units(10), result.Attempt.TokenStroops)
	assert.Equal(t, intermediaryAddr, result.Payment.Destination)
	assert.Equal(t, units(10), result.Payment.AmountStroops)
	assert.Equal(t, units(10), assetRepo.asset.ReservedStroops)
}

func TestInitiateFrozenAsset(t *testing.T) {
	assetRepo := &fakeAssetRepo{asset: testAsset(nil, units(1000))}
	assetRepo.asset.Frozen = true
	coordinator := newTestCoordinator(assetRepo, newFakeAttemptRepo(), allowAll{}, &fakeGateway{}, &fakeSubmitter{})

	_, err := coordinator.Initiate(context.Background(), buyerActor(), InitiateInput{
		AssetCode:      "MANGROVE_2023",
		BuyerAddress:   buyerAddr,
		PaymentStroops: units(1),
	})
	var frozen *apperrors.FrozenAssetError
	assert.ErrorAs(t, err, &frozen)
	assert.Zero(t, assetRepo.asset.ReservedStroops)
}

func TestInitiateRequiresActiveGrant(t *testing.T) {
	assetRepo := &fakeAssetRepo{asset: testAsset(nil, units(1000))}
	coordinator := newTestCoordinator(assetRepo, newFakeAttemptRepo(), denyAll{}, &fakeGateway{}, &fakeSubmitter{})

	_, err := coordinator.Initiate(context.Background(), buyerActor(), InitiateInput{
		AssetCode:      "MANGROVE_2023",
		BuyerAddress:   buyerAddr,
		PaymentStroops: units(1),
	})
	var notApproved *apperrors.NotApprovedError
	assert.ErrorAs(t, err, &notApproved)
}

func TestInitiateRejectsForeignWallet(t *testing.T) {
	assetRepo := &fakeAssetRepo{asset: testAsset(nil, units(1000))}
	coordinator := newTestCoordinator(assetRepo, newFakeAttemptRepo(), allowAll{}, &fakeGateway{}, &fakeSubmitter{})

	_, err := coordinator.Initiate(context.Background(), buyerActor(), InitiateInput{
		AssetCode:      "MANGROVE_2023",
		BuyerAddress:   issuerAddr, // not the actor's wallet
		PaymentStroops: units(1),
	})
	var authz *apperrors.AuthorizationError
	assert.ErrorAs(t, err, &authz)
}

func TestInitiateInsufficientSupply(t *testing.T) {
	assetRepo := &fakeAssetRepo{asset: testAsset(nil, units(100))}
	coordinator := newTestCoordinator(assetRepo, newFakeAttemptRepo(), allowAll{}, &fakeGateway{}, &fakeSubmitter{})

	_, err := coordinator.Initiate(context.Background(), buyerActor(), InitiateInput{
		AssetCode:      "MANGROVE_2023",
		BuyerAddress:   buyerAddr,
		PaymentStroops: units(101),
	})
	var insufficient *apperrors.InsufficientSupplyError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, units(100), insufficient.RemainingStroops)
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	// 1000 units of supply, two buyers racing for 600 each: exactly one of
	// the reservations can win.
	assetRepo := &fakeAssetRepo{asset: testAsset(nil, units(1000))}
	coordinator := newTestCoordinator(assetRepo, newFakeAttemptRepo(), allowAll{}, &fakeGateway{}, &fakeSubmitter{})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = coordinator.Initiate(context.Background(), buyerActor(), InitiateInput{
				AssetCode:      "MANGROVE_2023",
				BuyerAddress:   buyerAddr,
				PaymentStroops: units(600),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			var insufficient *apperrors.InsufficientSupplyError
			assert.ErrorAs(t, err, &insufficient)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, units(600), assetRepo.asset.ReservedStroops)
}

func TestCompleteHappyPath(t *testing.T) {
	price := units(1)
	assetRepo := &fakeAssetRepo{asset: testAsset(&price, units(1000))}
	attempts := newFakeAttemptRepo()
	gateway := &fakeGateway{
		findPayment: func(from, to string, min int64) (*ledger.Payment, error) {
			return &ledger.Payment{TxHash: "pay-hash", From: from, To: to, AmountStroops: min}, nil
		},
	}
	submitter := &fakeSubmitter{}
	coordinator := newTestCoordinator(assetRepo, attempts, allowAll{}, gateway, submitter)

	actor := buyerActor()
	result, err := coordinator.Initiate(context.Background(), actor, InitiateInput{
		AssetCode:      "MANGROVE_2023",
		BuyerAddress:   buyerAddr,
		PaymentStroops: units(10),
	})
	require.NoError(t, err)

	attempt, err := coordinator.Complete(context.Background(), actor, CompleteInput{AttemptID: &result.Attempt.ID})
	require.NoError(t, err)

	assert.Equal(t, PhaseCompleted, attempt.Phase)
	require.NotNil(t, attempt.PaymentTxHash)
	assert.Equal(t, "pay-hash", *attempt.PaymentTxHash)
	require.NotNil(t, attempt.TransferTxHash)
	assert.Equal(t, "transfer-hash", *attempt.TransferTxHash)
	assert.Equal(t, 1, submitter.invokes)
	assert.Equal(t, 1, submitter.payments)
	assert.Equal(t, units(10), assetRepo.asset.SoldStroops)
	assert.Zero(t, assetRepo.asset.ReservedStroops)
}

func TestCompleteIsIdempotent(t *testing.T) {
	assetRepo := &fakeAssetRepo{asset: testAsset(nil, units(1000))}
	attempts := newFakeAttemptRepo()
	gateway := &fakeGateway{
		findPayment: func(from, to string, min int64) (*ledger.Payment, error) {
			return &ledger.Payment{TxHash: "pay-hash", From: from, To: to, AmountStroops: min}, nil
		},
	}
	submitter := &fakeSubmitter{}
	coordinator := newTestCoordinator(assetRepo, attempts, allowAll{}, gateway, submitter)

	actor := buyerActor()
	result, err := coordinator.Initiate(context.Background(), actor, InitiateInput{
		AssetCode:      "MANGROVE_2023",
		BuyerAddress:   buyerAddr,
		PaymentStroops: units(5),
	})
	require.NoError(t, err)

	first, err := coordinator.Complete(context.Background(), actor, CompleteInput{AttemptID: &result.Attempt.ID})
	require.NoError(t, err)
	require.Equal(t, PhaseCompleted, first.Phase)

	// Replay by attempt ID and by key: neither moves tokens again
	second, err := coordinator.Complete(context.Background(), actor, CompleteInput{AttemptID: &result.Attempt.ID})
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, second.Phase)

	third, err := coordinator.Complete(context.Background(), actor, CompleteInput{
		AssetCode:    "MANGROVE_2023",
		BuyerAddress: buyerAddr,
	})
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, third.Phase)

	assert.Equal(t, 1, submitter.invokes)
	assert.Equal(t, 1, submitter.payments)
	assert.Equal(t, units(5), assetRepo.asset.SoldStroops)
}

func TestCompletePaymentNotFoundIsRetryable(t *testing.T) {
	assetRepo := &fakeAssetRepo{asset: testAsset(nil, units(1000))}
	attempts := newFakeAttemptRepo()
	coordinator := newTestCoordinator(assetRepo, attempts, allowAll{}, &fakeGateway{}, &fakeSubmitter{})

	actor := buyerActor()
	result, err := coordinator.Initiate(context.Background(), actor, InitiateInput{
		AssetCode:      "MANGROVE_2023",
		BuyerAddress:   buyerAddr,
		PaymentStroops: units(5),
	})
	require.NoError(t, err)

	_, err = coordinator.Complete(context.Background(), actor, CompleteInput{AttemptID: &result.Attempt.ID})
	var notFound *apperrors.PaymentNotFoundError
	require.ErrorAs(t, err, &notFound)

	// Reservation intact, attempt still open for a retry
	reloaded, err := attempts.GetByID(context.Background(), result.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, PhasePaymentPending, reloaded.Phase)
	assert.Equal(t, units(5), assetRepo.asset.ReservedStroops)
}

func TestCompleteTransferFailureRequiresRefund(t *testing.T) {
	assetRepo := &fakeAssetRepo{asset: testAsset(nil, units(1000))}
	attempts := newFakeAttemptRepo()
	gateway := &fakeGateway{
		findPayment: func(from, to string, min int64) (*ledger.Payment, error) {
			return &ledger.Payment{TxHash: "pay-hash", From: from, To: to, AmountStroops: min}, nil
		},
	}
	submitter := &fakeSubmitter{invokeErr: &apperrors.LedgerRejectedError{Op: "transfer_from", ResultCode: "contract_error"}}
	coordinator := newTestCoordinator(assetRepo, attempts, allowAll{}, gateway, submitter)

	actor := buyerActor()
	result, err := coordinator.Initiate(context.Background(), actor, InitiateInput{
		AssetCode:      "MANGROVE_2023",
		BuyerAddress:   buyerAddr,
		PaymentStroops: units(5),
	})
	require.NoError(t, err)

	_, err = coordinator.Complete(context.Background(), actor, CompleteInput{AttemptID: &result.Attempt.ID})
	var refund *apperrors.RefundRequiredError
	require.ErrorAs(t, err, &refund)
	assert.Equal(t, result.Attempt.ID.String(), refund.AttemptID)

	reloaded, err := attempts.GetByID(context.Background(), result.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailedRefundRequired, reloaded.Phase)

	// The failure is terminal: it never converts to a clean failure and the
	// reservation stays held for refund tooling.
	assert.Equal(t, units(5), assetRepo.asset.ReservedStroops)
	assert.Zero(t, assetRepo.asset.SoldStroops)

	_, err = coordinator.Complete(context.Background(), actor, CompleteInput{AttemptID: &result.Attempt.ID})
	require.ErrorAs(t, err, &refund)
	assert.Equal(t, 0, submitter.invokes)
}

func TestCompleteRetriesFinalizeWithoutSecondTransfer(t *testing.T) {
	// Transfer succeeds, finalization fails once. The replay must resume at
	// finalization: the tokens on the ledger moved exactly once.
	assetRepo := &fakeAssetRepo{asset: testAsset(nil, units(1000)), finalizeFails: 1}
	attempts := newFakeAttemptRepo()
	gateway := &fakeGateway{
		findPayment: func(from, to string, min int64) (*ledger.Payment, error) {
			return &ledger.Payment{TxHash: "pay-hash", From: from, To: to, AmountStroops: min}, nil
		},
	}
	submitter := &fakeSubmitter{}
	coordinator := newTestCoordinator(assetRepo, attempts, allowAll{}, gateway, submitter)

	actor := buyerActor()
	result, err := coordinator.Initiate(context.Background(), actor, InitiateInput{
		AssetCode:      "MANGROVE_2023",
		BuyerAddress:   buyerAddr,
		PaymentStroops: units(5),
	})
	require.NoError(t, err)

	_, err = coordinator.Complete(context.Background(), actor, CompleteInput{AttemptID: &result.Attempt.ID})
	require.Error(t, err)
	require.Equal(t, 1, submitter.invokes)

	// The transfer hash survived the failed finalization
	reloaded, err := attempts.GetByID(context.Background(), result.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseTransferPending, reloaded.Phase)
	require.NotNil(t, reloaded.TransferTxHash)
	assert.Equal(t, "transfer-hash", *reloaded.TransferTxHash)

	attempt, err := coordinator.Complete(context.Background(), actor, CompleteInput{AttemptID: &result.Attempt.ID})
	require.NoError(t, err)

	assert.Equal(t, PhaseCompleted, attempt.Phase)
	assert.Equal(t, 1, submitter.invokes)
	assert.Equal(t, 1, submitter.payments)
	assert.Equal(t, units(5), assetRepo.asset.SoldStroops)
	assert.Zero(t, assetRepo.asset.ReservedStroops)
}

func TestCompleteByKeySelectsMatchingPayment(t *testing.T) {
	// Two open attempts for the same buyer and asset: the payment amount in
	// the replay key picks the right one.
	assetRepo := &fakeAssetRepo{asset: testAsset(nil, units(1000))}
	attempts := newFakeAttemptRepo()
	gateway := &fakeGateway{
		findPayment: func(from, to string, min int64) (*ledger.Payment, error) {
			return &ledger.Payment{TxHash: "pay-hash", From: from, To: to, AmountStroops: min}, nil
		},
	}
	submitter := &fakeSubmitter{}
	coordinator := newTestCoordinator(assetRepo, attempts, allowAll{}, gateway, submitter)

	actor := buyerActor()
	first, err := coordinator.Initiate(context.Background(), actor, InitiateInput{
		AssetCode:      "MANGROVE_2023",
		BuyerAddress:   buyerAddr,
		PaymentStroops: units(5),
	})
	require.NoError(t, err)
	second, err := coordinator.Initiate(context.Background(), actor, InitiateInput{
		AssetCode:      "MANGROVE_2023",
		BuyerAddress:   buyerAddr,
		PaymentStroops: units(7),
	})
	require.NoError(t, err)

	payment := units(5)
	attempt, err := coordinator.Complete(context.Background(), actor, CompleteInput{
		AssetCode:      "MANGROVE_2023",
		BuyerAddress:   buyerAddr,
		PaymentStroops: &payment,
	})
	require.NoError(t, err)

	assert.Equal(t, first.Attempt.ID, attempt.ID)
	assert.Equal(t, units(5), attempt.PaymentStroops)

	// The 7-unit attempt is untouched
	other, err := attempts.GetByID(context.Background(), second.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, PhasePaymentPending, other.Phase)
	assert.Equal(t, units(5), assetRepo.asset.SoldStroops)
	assert.Equal(t, units(7), assetRepo.asset.ReservedStroops)
}

func TestExpireSweepFailsCleanAndReleases(t *testing.T) {
	assetRepo := &fakeAssetRepo{asset: testAsset(nil, units(1000))}
	attempts := newFakeAttemptRepo()
	coordinator := newTestCoordinator(assetRepo, attempts, allowAll{}, &fakeGateway{}, &fakeSubmitter{})

	actor := buyerActor()
	result, err := coordinator.Initiate(context.Background(), actor, InitiateInput{
		AssetCode:      "MANGROVE_2023",
		BuyerAddress:   buyerAddr,
		PaymentStroops: units(20),
	})
	require.NoError(t, err)
	require.Equal(t, units(20), assetRepo.asset.ReservedStroops)

	coordinator.now = func() time.Time { return time.Now().Add(time.Hour) }
	coordinator.ExpireSweep(context.Background())

	reloaded, err := attempts.GetByID(context.Background(), result.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailedClean, reloaded.Phase)
	assert.Zero(t, assetRepo.asset.ReservedStroops)
}

func TestExpireSweepLeavesConfirmedAttempts(t *testing.T) {
	assetRepo := &fakeAssetRepo{asset: testAsset(nil, units(1000))}
	attempts := newFakeAttemptRepo()
	coordinator := newTestCoordinator(assetRepo, attempts, allowAll{}, &fakeGateway{}, &fakeSubmitter{})

	attempt := &SwapAttempt{
		AssetID:        assetRepo.asset.ID,
		BuyerAddress:   buyerAddr,
		PaymentStroops: units(5),
		TokenStroops:   units(5),
		Phase:          PhasePaymentConfirmed,
		ExpiresAt:      time.Now().Add(-time.Hour),
	}
	require.NoError(t, attempts.Create(context.Background(), attempt))
	assetRepo.asset.ReservedStroops = units(5)

	coordinator.ExpireSweep(context.Background())

	reloaded, err := attempts.GetByID(context.Background(), attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, PhasePaymentConfirmed, reloaded.Phase)
	assert.Equal(t, units(5), assetRepo.asset.ReservedStroops)
}
