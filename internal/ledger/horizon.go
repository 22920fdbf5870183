package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stellar/go/amount"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"

	"carbon-bridge/marketplace-backend/internal/config"
	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

// HorizonGateway implements Gateway against a Horizon instance plus a Soroban
// RPC endpoint for contract invocations.
type HorizonGateway struct {
	client            *horizonclient.Client
	soroban           *sorobanRPC
	intermediary      *keypair.Full
	networkPassphrase string
	baseFee           int64
	logger            *zap.Logger
}

// NewHorizonGateway creates a gateway from Stellar configuration. The
// intermediary secret key is the only signing key the service custodies.
func NewHorizonGateway(cfg *config.StellarConfig, logger *zap.Logger) (*HorizonGateway, error) {
	client := horizonclient.DefaultTestNetClient
	if cfg.Network == "public" {
		client = horizonclient.DefaultPublicNetClient
	} else if cfg.HorizonURL != "" {
		client = &horizonclient.Client{HorizonURL: cfg.HorizonURL}
	}

	intermediary, err := keypair.ParseFull(cfg.IntermediarySecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse intermediary key pair: %w", err)
	}

	networkPassphrase := network.TestNetworkPassphrase
	if cfg.Network == "public" {
		networkPassphrase = network.PublicNetworkPassphrase
	}

	baseFee := cfg.BaseFee
	if baseFee == 0 {
		baseFee = txnbuild.MinBaseFee
	}

	return &HorizonGateway{
		client:            client,
		soroban:           newSorobanRPC(cfg.SorobanRPCURL, logger),
		intermediary:      intermediary,
		networkPassphrase: networkPassphrase,
		baseFee:           baseFee,
		logger:            logger,
	}, nil
}

func (g *HorizonGateway) IntermediaryAddress() string {
	return g.intermediary.Address()
}

func (g *HorizonGateway) GetAccount(ctx context.Context, address string) (*Account, error) {
	detail, err := g.client.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	if err != nil {
		return nil, wrapHorizonError("account lookup", err)
	}

	var native int64
	for _, balance := range detail.Balances {
		if balance.Type == "native" {
			native, _ = amount.ParseInt64(balance.Balance)
		}
	}

	sequence, err := detail.GetSequenceNumber()
	if err != nil {
		return nil, &apperrors.LedgerUnavailableError{Op: "account lookup", Err: err}
	}

	return &Account{
		Address:              detail.AccountID,
		Sequence:             sequence,
		NativeBalanceStroops: native,
	}, nil
}

func (g *HorizonGateway) BuildPayment(ctx context.Context, source, destination string, amountStroops int64, memo string) (*PaymentDescriptor, error) {
	sourceAccount, err := g.client.AccountDetail(horizonclient.AccountRequest{AccountID: source})
	if err != nil {
		return nil, wrapHorizonError("payment build", err)
	}

	// Text memos cap at 28 bytes
	if len(memo) > 28 {
		memo = memo[:28]
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &sourceAccount,
		IncrementSequenceNum: true,
		BaseFee:              g.baseFee,
		Memo:                 txnbuild.MemoText(memo),
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(300),
		},
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: destination,
				Amount:      amount.StringFromInt64(amountStroops),
				Asset:       txnbuild.NativeAsset{},
			},
		},
	})
	if err != nil {
		return nil, &apperrors.LedgerUnavailableError{Op: "payment build", Err: err}
	}

	envelope, err := tx.Base64()
	if err != nil {
		return nil, &apperrors.LedgerUnavailableError{Op: "payment build", Err: err}
	}

	return &PaymentDescriptor{
		Source:        source,
		Destination:   destination,
		AmountStroops: amountStroops,
		Memo:          memo,
		EnvelopeXDR:   envelope,
		Network:       g.networkPassphrase,
	}, nil
}

func (g *HorizonGateway) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	resp, err := g.client.TransactionDetail(hash)
	if err != nil {
		return nil, wrapHorizonError("transaction lookup", err)
	}
	return &Transaction{
		Hash:       resp.Hash,
		Successful: resp.Successful,
		Ledger:     resp.Ledger,
		ResultCode: resp.ResultXdr,
	}, nil
}

func (g *HorizonGateway) FindPayment(ctx context.Context, from, to string, minStroops int64) (*Payment, error) {
	page, err := g.client.Payments(horizonclient.OperationRequest{
		ForAccount: to,
		Order:      horizonclient.OrderDesc,
		Limit:      100,
	})
	if err != nil {
		return nil, wrapHorizonError("payment search", err)
	}

	for _, record := range page.Embedded.Records {
		payment, ok := record.(operations.Payment)
		if !ok {
			continue
		}
		if !payment.TransactionSuccessful {
			continue
		}
		if payment.From != from || payment.To != to {
			continue
		}
		if payment.Asset.Type != "native" {
			continue
		}
		stroops, err := amount.ParseInt64(payment.Amount)
		if err != nil || stroops < minStroops {
			continue
		}
		return &Payment{
			TxHash:        payment.GetTransactionHash(),
			From:          payment.From,
			To:            payment.To,
			AmountStroops: stroops,
		}, nil
	}

	return nil, &apperrors.PaymentNotFoundError{Buyer: from, AmountStroops: minStroops}
}

// SendPayment signs and submits a native payment from the intermediary
// account through Horizon.
func (g *HorizonGateway) SendPayment(ctx context.Context, destination string, amountStroops int64, memo string) (*Transaction, error) {
	sourceAccount, err := g.client.AccountDetail(horizonclient.AccountRequest{AccountID: g.intermediary.Address()})
	if err != nil {
		return nil, wrapHorizonError("payment send", err)
	}

	if len(memo) > 28 {
		memo = memo[:28]
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &sourceAccount,
		IncrementSequenceNum: true,
		BaseFee:              g.baseFee,
		Memo:                 txnbuild.MemoText(memo),
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(300),
		},
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: destination,
				Amount:      amount.StringFromInt64(amountStroops),
				Asset:       txnbuild.NativeAsset{},
			},
		},
	})
	if err != nil {
		return nil, &apperrors.LedgerUnavailableError{Op: "payment send", Err: err}
	}
	tx, err = tx.Sign(g.networkPassphrase, g.intermediary)
	if err != nil {
		return nil, &apperrors.LedgerUnavailableError{Op: "payment send", Err: err}
	}

	resp, err := g.client.SubmitTransaction(tx)
	if err != nil {
		return nil, wrapHorizonError("payment send", err)
	}
	return &Transaction{
		Hash:       resp.Hash,
		Successful: resp.Successful,
		Ledger:     resp.Ledger,
	}, nil
}

// InvokeContract simulates the call against Soroban RPC, signs with the
// intermediary key, submits, and polls Horizon until the transaction is final.
func (g *HorizonGateway) InvokeContract(ctx context.Context, call ContractCall) (*Transaction, error) {
	sourceAccount, err := g.client.AccountDetail(horizonclient.AccountRequest{AccountID: g.intermediary.Address()})
	if err != nil {
		return nil, wrapHorizonError("contract invoke", err)
	}

	op, err := buildInvokeOp(call, g.intermediary.Address())
	if err != nil {
		return nil, err
	}

	envelope, err := g.soroban.prepareAndEncode(ctx, &sourceAccount, op, g.networkPassphrase, g.baseFee, g.intermediary)
	if err != nil {
		return nil, err
	}

	hash, err := g.soroban.send(ctx, envelope)
	if err != nil {
		return nil, err
	}

	g.logger.Info("contract invocation submitted",
		zap.String("contract", call.ContractID),
		zap.String("method", call.Method),
		zap.String("hash", hash))

	return g.waitForFinality(ctx, hash)
}

// SimulateValue runs a read-only contract call via simulation, sourced from
// the intermediary account but never signed or submitted.
func (g *HorizonGateway) SimulateValue(ctx context.Context, call ContractCall) (int64, error) {
	sourceAccount, err := g.client.AccountDetail(horizonclient.AccountRequest{AccountID: g.intermediary.Address()})
	if err != nil {
		return 0, wrapHorizonError("contract read", err)
	}

	op, err := buildInvokeOp(call, g.intermediary.Address())
	if err != nil {
		return 0, err
	}

	returnXDR, err := g.soroban.simulateValue(ctx, &sourceAccount, op, g.baseFee)
	if err != nil {
		return 0, err
	}
	value, ok := decodeReturnI128(returnXDR)
	if !ok {
		return 0, &apperrors.LedgerRejectedError{
			Op:         "contract read",
			ResultCode: "unexpected_return_type",
		}
	}
	return value, nil
}

// SubmitSigned submits an externally signed envelope and waits for finality.
func (g *HorizonGateway) SubmitSigned(ctx context.Context, envelopeXDR string) (*Transaction, error) {
	hash, err := g.soroban.send(ctx, envelopeXDR)
	if err != nil {
		return nil, err
	}
	return g.waitForFinality(ctx, hash)
}

// waitForFinality polls the Soroban RPC with exponential backoff until the
// transaction has been applied in a closed ledger.
func (g *HorizonGateway) waitForFinality(ctx context.Context, hash string) (*Transaction, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(2*time.Second),
		backoff.WithMaxInterval(15*time.Second),
	), 20), ctx)

	var result *Transaction
	err := backoff.Retry(func() error {
		status, err := g.soroban.getTransaction(ctx, hash)
		if err != nil {
			var unavailable *apperrors.LedgerUnavailableError
			if errors.As(err, &unavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		switch status.Status {
		case "NOT_FOUND":
			return fmt.Errorf("transaction %s not yet in a ledger", hash)
		case "FAILED":
			return backoff.Permanent(&apperrors.LedgerRejectedError{
				Op:         "contract invoke",
				ResultCode: status.ResultXDR,
			})
		}
		result = &Transaction{
			Hash:       hash,
			Successful: true,
			Ledger:     status.Ledger,
			Result:     decodeReturnAddress(status.ReturnValueXDR),
		}
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func wrapHorizonError(op string, err error) error {
	hErr := horizonclient.GetError(err)
	if hErr == nil {
		return &apperrors.LedgerUnavailableError{Op: op, Err: err}
	}
	if codes, cErr := hErr.ResultCodes(); cErr == nil && codes != nil {
		return &apperrors.LedgerRejectedError{
			Op:         op,
			ResultCode: strings.Join(append([]string{codes.TransactionCode}, codes.OperationCodes...), ","),
			Err:        err,
		}
	}
	return &apperrors.LedgerUnavailableError{Op: op, Err: err}
}
