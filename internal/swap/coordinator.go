package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-bridge/marketplace-backend/internal/assets"
	"carbon-bridge/marketplace-backend/internal/auth"
	"carbon-bridge/marketplace-backend/internal/ledger"
	"carbon-bridge/marketplace-backend/pkg/apperrors"
	"carbon-bridge/marketplace-backend/pkg/workflows"
)

// ApprovalGate answers whether an asset's delegated-transfer grant is ACTIVE.
// Implemented by the pre-approval registry.
type ApprovalGate interface {
	RequireActive(ctx context.Context, asset *assets.Asset) error
}

// Submitter is the serialized write path for the intermediary account.
type Submitter interface {
	Invoke(ctx context.Context, call ledger.ContractCall) (*ledger.Transaction, error)
	Pay(ctx context.Context, destination string, amountStroops int64, memo string) (*ledger.Transaction, error)
}

// Notifier delivers swap outcomes to the buyer; optional.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, body string)
}

// InitiateInput starts a swap: a buyer offering a native payment for tokens.
type InitiateInput struct {
	AssetCode      string
	BuyerAddress   string
	PaymentStroops int64
}

// InitiateResult carries the reservation and the unsigned payment envelope
// the buyer's wallet must sign and submit.
type InitiateResult struct {
	Attempt *SwapAttempt              `json:"attempt"`
	Payment *ledger.PaymentDescriptor `json:"payment"`
}

// CompleteInput identifies the attempt to complete, either directly or by its
// replay key (asset, buyer, payment amount). PaymentStroops is optional; when
// absent the key degrades to the buyer's newest attempt for the asset.
type CompleteInput struct {
	AttemptID      *uuid.UUID
	AssetCode      string
	BuyerAddress   string
	PaymentStroops *int64
}

// Coordinator owns the swap saga. Every phase transition goes through a
// conditional update so two instances can never drive the same attempt.
type Coordinator struct {
	attempts     Repository
	assetRepo    assets.Repository
	approvals    ApprovalGate
	gateway      ledger.Gateway
	submitter    Submitter
	notifier     Notifier
	states       *workflows.StateMachine
	controllerID string
	ttl          time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewCoordinator(attempts Repository, assetRepo assets.Repository, approvals ApprovalGate, gateway ledger.Gateway, submitter Submitter, controllerID string, ttl time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		attempts:     attempts,
		assetRepo:    assetRepo,
		approvals:    approvals,
		gateway:      gateway,
		submitter:    submitter,
		states:       workflows.NewSwapStateMachine(),
		controllerID: controllerID,
		ttl:          ttl,
		logger:       logger,
		now:          time.Now,
	}
}

// SetNotifier enables swap-outcome notifications.
func (c *Coordinator) SetNotifier(notifier Notifier) {
	c.notifier = notifier
}

func (c *Coordinator) notify(ctx context.Context, userID uuid.UUID, kind, title, body string) {
	if c.notifier == nil || userID == uuid.Nil {
		return
	}
	c.notifier.Notify(ctx, userID, kind, title, body)
}

// TokensFor converts a native payment into a token amount at a fixed price,
// rounding down. Both sides are stroops; a nil price means 1:1.
func TokensFor(paymentStroops int64, pricePerUnitStroops *int64) (int64, error) {
	if paymentStroops <= 0 {
		return 0, &apperrors.ValidationError{Field: "payment", Reason: "must be greater than 0"}
	}
	if pricePerUnitStroops == nil {
		return paymentStroops, nil
	}
	price := *pricePerUnitStroops
	if price <= 0 {
		return 0, &apperrors.ValidationError{Field: "price_per_unit", Reason: "must be greater than 0"}
	}

	// floor(payment * 10^7 / price), in big ints so the intermediate product
	// cannot overflow
	tokens := new(big.Int).Mul(big.NewInt(paymentStroops), big.NewInt(ledger.StroopsPerUnit))
	tokens.Quo(tokens, big.NewInt(price))
	if !tokens.IsInt64() {
		return 0, &apperrors.ValidationError{Field: "payment", Reason: "token amount out of range"}
	}
	return tokens.Int64(), nil
}

// Initiate reserves supply and hands the buyer an unsigned payment envelope.
// The token amount is fixed here; later price changes do not affect the
// attempt.
func (c *Coordinator) Initiate(ctx context.Context, actor auth.Actor, input InitiateInput) (*InitiateResult, error) {
	if err := actor.RequireWallet(input.BuyerAddress); err != nil {
		return nil, err
	}

	asset, err := c.assetRepo.GetByCode(ctx, input.AssetCode)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, &apperrors.ValidationError{Field: "asset_code", Reason: "asset not found"}
	}
	if asset.ContractID == nil {
		return nil, &apperrors.ValidationError{Field: "asset_code", Reason: "asset has no deployed contract"}
	}
	if asset.Frozen {
		return nil, &apperrors.FrozenAssetError{AssetCode: asset.AssetCode}
	}
	if err := c.approvals.RequireActive(ctx, asset); err != nil {
		return nil, err
	}

	tokenStroops, err := TokensFor(input.PaymentStroops, asset.PricePerUnitStroops)
	if err != nil {
		return nil, err
	}
	if tokenStroops == 0 {
		return nil, &apperrors.ValidationError{Field: "payment", Reason: "too small to buy any tokens at this price"}
	}

	reserved, err := c.assetRepo.Reserve(ctx, asset.ID, tokenStroops)
	if err != nil {
		return nil, err
	}
	if !reserved {
		// Re-read for an accurate remaining figure; the conditional update
		// already guaranteed we held nothing.
		current, readErr := c.assetRepo.GetByID(ctx, asset.ID)
		if readErr == nil && current != nil && current.Frozen {
			return nil, &apperrors.FrozenAssetError{AssetCode: asset.AssetCode}
		}
		remaining := int64(0)
		if current != nil {
			remaining = current.RemainingStroops()
		}
		return nil, &apperrors.InsufficientSupplyError{
			AssetCode:        asset.AssetCode,
			RequestedStroops: tokenStroops,
			RemainingStroops: remaining,
		}
	}

	attempt := &SwapAttempt{
		AssetID:        asset.ID,
		BuyerAddress:   input.BuyerAddress,
		PaymentStroops: input.PaymentStroops,
		TokenStroops:   tokenStroops,
		Phase:          PhaseReserved,
		ExpiresAt:      c.now().Add(c.ttl),
	}
	if err := c.attempts.Create(ctx, attempt); err != nil {
		c.releaseQuietly(ctx, asset.ID, tokenStroops)
		return nil, err
	}

	descriptor, err := c.gateway.BuildPayment(ctx,
		input.BuyerAddress, c.gateway.IntermediaryAddress(),
		input.PaymentStroops, attempt.ID.String())
	if err != nil {
		c.failClean(ctx, attempt, "payment envelope build failed")
		return nil, err
	}

	if err := c.transition(ctx, attempt, PhasePaymentPending, nil); err != nil {
		return nil, err
	}

	c.logger.Info("swap initiated",
		zap.String("attempt_id", attempt.ID.String()),
		zap.String("asset_code", asset.AssetCode),
		zap.Int64("payment_stroops", input.PaymentStroops),
		zap.Int64("token_stroops", tokenStroops))

	return &InitiateResult{Attempt: attempt, Payment: descriptor}, nil
}

// Complete drives an attempt to a terminal phase: verify the buyer's payment,
// transfer the tokens by delegation, finalize supply, pay the seller.
// Replaying a COMPLETED attempt returns it unchanged; nothing moves twice.
func (c *Coordinator) Complete(ctx context.Context, actor auth.Actor, input CompleteInput) (*SwapAttempt, error) {
	attempt, asset, err := c.resolve(ctx, input)
	if err != nil {
		return nil, err
	}

	if actor.Role != auth.RoleAdmin {
		if err := actor.RequireWallet(attempt.BuyerAddress); err != nil {
			return nil, err
		}
	}

	switch attempt.Phase {
	case PhaseCompleted:
		return attempt, nil
	case PhaseFailedClean:
		return nil, &apperrors.StateError{Entity: "swap attempt", From: string(PhaseFailedClean)}
	case PhaseFailedRefundRequired:
		detail := "token transfer failed"
		if attempt.FailureDetail != nil {
			detail = *attempt.FailureDetail
		}
		return nil, &apperrors.RefundRequiredError{AttemptID: attempt.ID.String(), Cause: errors.New(detail)}
	}

	if attempt.Phase == PhaseReserved {
		if err := c.transition(ctx, attempt, PhasePaymentPending, nil); err != nil {
			return nil, err
		}
	}

	if attempt.Phase == PhasePaymentPending {
		if c.now().After(attempt.ExpiresAt) {
			c.failClean(ctx, attempt, "reservation expired")
			return nil, &apperrors.StateError{Entity: "swap attempt", From: string(PhaseFailedClean)}
		}

		payment, err := c.gateway.FindPayment(ctx,
			attempt.BuyerAddress, c.gateway.IntermediaryAddress(), attempt.PaymentStroops)
		if err != nil {
			// PaymentNotFound is retryable and leaves the reservation intact
			return nil, err
		}
		if err := c.transition(ctx, attempt, PhasePaymentConfirmed, map[string]interface{}{
			"payment_tx_hash": payment.TxHash,
		}); err != nil {
			return nil, err
		}
		attempt.PaymentTxHash = &payment.TxHash
	}

	if attempt.Phase == PhasePaymentConfirmed {
		if err := c.transition(ctx, attempt, PhaseTransferPending, nil); err != nil {
			return nil, err
		}
	}

	settled, err := c.settle(ctx, attempt, asset)
	if err != nil {
		var refund *apperrors.RefundRequiredError
		if errors.As(err, &refund) {
			c.notify(ctx, actor.UserID, "swap_refund_required",
				"Swap failed after payment",
				fmt.Sprintf("Attempt %s needs a refund; support has been alerted", attempt.ID))
		}
		return nil, err
	}
	c.notify(ctx, actor.UserID, "swap_completed",
		"Swap completed",
		fmt.Sprintf("You received %s tokens of %s", ledger.FormatStroops(settled.TokenStroops), asset.AssetCode))
	return settled, nil
}

// settle runs the irreversible tail of the saga: delegated transfer, supply
// finalization, seller payout. The attempt is in TRANSFER_PENDING. A recorded
// transfer hash means tokens already moved; the replay resumes at finalize.
func (c *Coordinator) settle(ctx context.Context, attempt *SwapAttempt, asset *assets.Asset) (*SwapAttempt, error) {
	if attempt.TransferTxHash == nil {
		transferTx, err := c.submitter.Invoke(ctx, ledger.ContractCall{
			ContractID: c.controllerID,
			Method:     "transfer_from",
			Args: []ledger.ContractArg{
				{Kind: ledger.ArgSymbol, Sym: asset.AssetCode},
				{Kind: ledger.ArgAddress, Address: asset.IssuerAddress},
				{Kind: ledger.ArgAddress, Address: attempt.BuyerAddress},
				{Kind: ledger.ArgI128, I128: attempt.TokenStroops},
			},
		})
		if err != nil {
			// Payment is already confirmed: this attempt can never fail clean.
			// The reservation stays held until refund tooling resolves it.
			detail := err.Error()
			if _, tErr := c.attempts.Transition(ctx, attempt.ID, PhaseTransferPending, PhaseFailedRefundRequired, map[string]interface{}{
				"failure_detail": detail,
			}); tErr != nil {
				c.logger.Error("failed to persist refund-required phase",
					zap.String("attempt_id", attempt.ID.String()), zap.Error(tErr))
			}
			c.logger.Error("token transfer failed after confirmed payment",
				zap.String("attempt_id", attempt.ID.String()),
				zap.String("asset_code", asset.AssetCode),
				zap.Error(err))
			return nil, &apperrors.RefundRequiredError{AttemptID: attempt.ID.String(), Cause: err}
		}

		// Record the hash before touching the books: a replay arriving after
		// a finalize failure must never invoke the transfer a second time.
		ok, err := c.attempts.Transition(ctx, attempt.ID, PhaseTransferPending, PhaseTransferPending, map[string]interface{}{
			"transfer_tx_hash": transferTx.Hash,
		})
		if err != nil {
			c.logger.Error("failed to record transfer hash after token transfer",
				zap.String("attempt_id", attempt.ID.String()),
				zap.String("transfer_tx_hash", transferTx.Hash),
				zap.Error(err))
			return nil, err
		}
		if !ok {
			return nil, &apperrors.StateError{Entity: "swap attempt", From: string(PhaseTransferPending)}
		}
		attempt.TransferTxHash = &transferTx.Hash
	}

	if err := c.assetRepo.Finalize(ctx, asset.ID, attempt.TokenStroops); err != nil {
		// Tokens moved but the counters did not; the recorded transfer hash
		// keeps the replay from moving them again, so only finalization and
		// payout re-run.
		c.logger.Error("supply finalization failed after token transfer",
			zap.String("attempt_id", attempt.ID.String()),
			zap.String("asset_code", asset.AssetCode),
			zap.Error(err))
		return nil, err
	}

	set := map[string]interface{}{}

	payoutTx, err := c.submitter.Pay(ctx, asset.IssuerAddress, attempt.PaymentStroops, "swap "+asset.AssetCode)
	if err != nil {
		// Tokens are delivered and supply finalized; the payout is owed by
		// the intermediary and retried operationally.
		note := fmt.Sprintf("seller payout pending: %v", err)
		set["failure_detail"] = note
		attempt.FailureDetail = &note
		c.logger.Error("seller payout failed, swap completed with payout owed",
			zap.String("attempt_id", attempt.ID.String()),
			zap.String("asset_code", asset.AssetCode),
			zap.Error(err))
	} else {
		set["payout_tx_hash"] = payoutTx.Hash
		attempt.PayoutTxHash = &payoutTx.Hash
	}

	if err := c.transition(ctx, attempt, PhaseCompleted, set); err != nil {
		return nil, err
	}

	c.logger.Info("swap completed",
		zap.String("attempt_id", attempt.ID.String()),
		zap.String("asset_code", asset.AssetCode),
		zap.Int64("token_stroops", attempt.TokenStroops))

	return attempt, nil
}

// ExpireSweep fails clean every attempt whose reservation deadline passed
// before payment confirmation, returning the held supply. Confirmed attempts
// are never expired.
func (c *Coordinator) ExpireSweep(ctx context.Context) {
	expired, err := c.attempts.ListExpired(ctx, c.now())
	if err != nil {
		c.logger.Error("expiry sweep failed to list attempts", zap.Error(err))
		return
	}

	for i := range expired {
		attempt := &expired[i]
		ok, err := c.attempts.Transition(ctx, attempt.ID, attempt.Phase, PhaseFailedClean, map[string]interface{}{
			"failure_detail": "reservation expired",
		})
		if err != nil {
			c.logger.Error("expiry sweep transition failed",
				zap.String("attempt_id", attempt.ID.String()), zap.Error(err))
			continue
		}
		if !ok {
			// Another instance advanced the attempt since we listed it
			continue
		}
		c.releaseQuietly(ctx, attempt.AssetID, attempt.TokenStroops)
		c.logger.Info("swap reservation expired",
			zap.String("attempt_id", attempt.ID.String()),
			zap.Int64("token_stroops", attempt.TokenStroops))
	}
}

// GetAttempt loads one attempt for its buyer or an admin.
func (c *Coordinator) GetAttempt(ctx context.Context, actor auth.Actor, id uuid.UUID) (*SwapAttempt, error) {
	attempt, err := c.attempts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, &apperrors.ValidationError{Field: "attempt_id", Reason: "swap attempt not found"}
	}
	if actor.Role != auth.RoleAdmin {
		if err := actor.RequireWallet(attempt.BuyerAddress); err != nil {
			return nil, err
		}
	}
	return attempt, nil
}

// CompletedAttempt loads a COMPLETED attempt and its asset, for certificate
// rendering.
func (c *Coordinator) CompletedAttempt(ctx context.Context, actor auth.Actor, id uuid.UUID) (*SwapAttempt, *assets.Asset, error) {
	attempt, err := c.GetAttempt(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}
	if attempt.Phase != PhaseCompleted {
		return nil, nil, &apperrors.StateError{Entity: "swap attempt", From: string(attempt.Phase), To: string(PhaseCompleted)}
	}
	asset, err := c.assetRepo.GetByID(ctx, attempt.AssetID)
	if err != nil {
		return nil, nil, err
	}
	if asset == nil {
		return nil, nil, &apperrors.ValidationError{Field: "attempt_id", Reason: "asset no longer exists"}
	}
	return attempt, asset, nil
}

func (c *Coordinator) resolve(ctx context.Context, input CompleteInput) (*SwapAttempt, *assets.Asset, error) {
	if input.AttemptID != nil {
		attempt, err := c.attempts.GetByID(ctx, *input.AttemptID)
		if err != nil {
			return nil, nil, err
		}
		if attempt == nil {
			return nil, nil, &apperrors.ValidationError{Field: "attempt_id", Reason: "swap attempt not found"}
		}
		asset, err := c.assetRepo.GetByID(ctx, attempt.AssetID)
		if err != nil {
			return nil, nil, err
		}
		if asset == nil {
			return nil, nil, &apperrors.ValidationError{Field: "attempt_id", Reason: "asset no longer exists"}
		}
		return attempt, asset, nil
	}

	asset, err := c.assetRepo.GetByCode(ctx, input.AssetCode)
	if err != nil {
		return nil, nil, err
	}
	if asset == nil {
		return nil, nil, &apperrors.ValidationError{Field: "asset_code", Reason: "asset not found"}
	}
	attempt, err := c.attempts.FindOpen(ctx, asset.ID, input.BuyerAddress, input.PaymentStroops)
	if err != nil {
		return nil, nil, err
	}
	if attempt == nil {
		// A replay after the attempt closed still resolves, so a repeated
		// completion of a finished swap stays idempotent.
		attempt, err = c.attempts.FindLatest(ctx, asset.ID, input.BuyerAddress, input.PaymentStroops)
		if err != nil {
			return nil, nil, err
		}
	}
	if attempt == nil {
		return nil, nil, &apperrors.ValidationError{Field: "buyer", Reason: "no swap attempt for this asset and buyer"}
	}
	return attempt, asset, nil
}

// transition advances the in-memory attempt and its row together, validating
// against the phase graph first.
func (c *Coordinator) transition(ctx context.Context, attempt *SwapAttempt, to Phase, set map[string]interface{}) error {
	if !c.states.CanTransition(string(attempt.Phase), string(to)) {
		return &apperrors.StateError{Entity: "swap attempt", From: string(attempt.Phase), To: string(to)}
	}
	ok, err := c.attempts.Transition(ctx, attempt.ID, attempt.Phase, to, set)
	if err != nil {
		return err
	}
	if !ok {
		return &apperrors.StateError{Entity: "swap attempt", From: string(attempt.Phase), To: string(to)}
	}
	attempt.Phase = to
	return nil
}

// failClean terminates a pre-confirmation attempt and returns its reservation.
func (c *Coordinator) failClean(ctx context.Context, attempt *SwapAttempt, reason string) {
	ok, err := c.attempts.Transition(ctx, attempt.ID, attempt.Phase, PhaseFailedClean, map[string]interface{}{
		"failure_detail": reason,
	})
	if err != nil || !ok {
		c.logger.Error("failed to fail attempt clean",
			zap.String("attempt_id", attempt.ID.String()), zap.Error(err))
		return
	}
	attempt.Phase = PhaseFailedClean
	c.releaseQuietly(ctx, attempt.AssetID, attempt.TokenStroops)
}

func (c *Coordinator) releaseQuietly(ctx context.Context, assetID uuid.UUID, tokenStroops int64) {
	if err := c.assetRepo.Release(ctx, assetID, tokenStroops); err != nil {
		c.logger.Error("failed to release reservation",
			zap.String("asset_id", assetID.String()),
			zap.Int64("token_stroops", tokenStroops),
			zap.Error(err))
	}
}
