package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"go.uber.org/zap"

	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

// sorobanRPC is a minimal JSON-RPC 2.0 client for the Soroban RPC endpoint.
// Only simulateTransaction and sendTransaction are needed; everything else
// goes through Horizon.
type sorobanRPC struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

func newSorobanRPC(url string, logger *zap.Logger) *sorobanRPC {
	return &sorobanRPC{
		url:    url,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type simulateResult struct {
	TransactionData string `json:"transactionData"`
	MinResourceFee  string `json:"minResourceFee,string"`
	Error           string `json:"error"`
	Results         []struct {
		XDR string `json:"xdr"`
	} `json:"results"`
}

type sendResult struct {
	Hash      string `json:"hash"`
	Status    string `json:"status"`
	ErrorXDR  string `json:"errorResultXdr"`
	LatestLdg uint32 `json:"latestLedger"`
}

type getTransactionResult struct {
	Status         string `json:"status"` // NOT_FOUND, SUCCESS, FAILED
	Ledger         int32  `json:"ledger"`
	ResultXDR      string `json:"resultXdr"`
	ReturnValueXDR string `json:"returnValue"`
}

func (s *sorobanRPC) call(ctx context.Context, method string, params, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return &apperrors.LedgerUnavailableError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return &apperrors.LedgerUnavailableError{Op: method, Err: err}
	}
	if rpcResp.Error != nil {
		return &apperrors.LedgerRejectedError{
			Op:         method,
			ResultCode: fmt.Sprintf("rpc_%d", rpcResp.Error.Code),
			Err:        fmt.Errorf("%s", rpcResp.Error.Message),
		}
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// prepareAndEncode simulates the invocation, applies the returned footprint
// and resource fee, signs with the intermediary key, and returns the
// base64-encoded envelope ready for sendTransaction.
func (s *sorobanRPC) prepareAndEncode(ctx context.Context, source *horizon.Account, op *txnbuild.InvokeHostFunction, passphrase string, baseFee int64, signer *keypair.Full) (string, error) {
	build := func(invokeOp *txnbuild.InvokeHostFunction, fee int64) (*txnbuild.Transaction, error) {
		return txnbuild.NewTransaction(txnbuild.TransactionParams{
			SourceAccount:        source,
			IncrementSequenceNum: true,
			BaseFee:              fee,
			Preconditions: txnbuild.Preconditions{
				TimeBounds: txnbuild.NewTimeout(300),
			},
			Operations: []txnbuild.Operation{invokeOp},
		})
	}

	simTx, err := build(op, baseFee)
	if err != nil {
		return "", &apperrors.LedgerUnavailableError{Op: "simulateTransaction", Err: err}
	}
	simXDR, err := simTx.Base64()
	if err != nil {
		return "", &apperrors.LedgerUnavailableError{Op: "simulateTransaction", Err: err}
	}

	var sim simulateResult
	if err := s.call(ctx, "simulateTransaction", map[string]string{"transaction": simXDR}, &sim); err != nil {
		return "", err
	}
	if sim.Error != "" {
		return "", &apperrors.LedgerRejectedError{
			Op:         "simulateTransaction",
			ResultCode: "simulation_failed",
			Err:        fmt.Errorf("%s", sim.Error),
		}
	}

	// Apply the simulated footprint to the operation
	dataBytes, err := base64.StdEncoding.DecodeString(sim.TransactionData)
	if err != nil {
		return "", &apperrors.LedgerUnavailableError{Op: "simulateTransaction", Err: err}
	}
	var sorobanData xdr.SorobanTransactionData
	if err := xdr.SafeUnmarshal(dataBytes, &sorobanData); err != nil {
		return "", &apperrors.LedgerUnavailableError{Op: "simulateTransaction", Err: err}
	}
	op.Ext = xdr.TransactionExt{V: 1, SorobanData: &sorobanData}

	fee := baseFee
	var minFee int64
	if _, err := fmt.Sscan(sim.MinResourceFee, &minFee); err == nil {
		fee += minFee
	}

	tx, err := build(op, fee)
	if err != nil {
		return "", &apperrors.LedgerUnavailableError{Op: "sendTransaction", Err: err}
	}
	tx, err = tx.Sign(passphrase, signer)
	if err != nil {
		return "", &apperrors.LedgerUnavailableError{Op: "sendTransaction", Err: err}
	}
	return tx.Base64()
}

// simulateValue runs the invocation through simulateTransaction only and
// returns the raw return-value XDR. No footprint is applied, nothing signed.
func (s *sorobanRPC) simulateValue(ctx context.Context, source *horizon.Account, op *txnbuild.InvokeHostFunction, baseFee int64) (string, error) {
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        source,
		IncrementSequenceNum: true,
		BaseFee:              baseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(300),
		},
		Operations: []txnbuild.Operation{op},
	})
	if err != nil {
		return "", &apperrors.LedgerUnavailableError{Op: "simulateTransaction", Err: err}
	}
	txXDR, err := tx.Base64()
	if err != nil {
		return "", &apperrors.LedgerUnavailableError{Op: "simulateTransaction", Err: err}
	}

	var sim simulateResult
	if err := s.call(ctx, "simulateTransaction", map[string]string{"transaction": txXDR}, &sim); err != nil {
		return "", err
	}
	if sim.Error != "" {
		return "", &apperrors.LedgerRejectedError{
			Op:         "simulateTransaction",
			ResultCode: "simulation_failed",
			Err:        fmt.Errorf("%s", sim.Error),
		}
	}
	if len(sim.Results) == 0 {
		return "", nil
	}
	return sim.Results[0].XDR, nil
}

// send submits the signed envelope; rejection at ingestion time surfaces as a
// LedgerRejectedError with the RPC status.
func (s *sorobanRPC) send(ctx context.Context, envelopeXDR string) (string, error) {
	var result sendResult
	if err := s.call(ctx, "sendTransaction", map[string]string{"transaction": envelopeXDR}, &result); err != nil {
		return "", err
	}
	if result.Status == "ERROR" {
		return "", &apperrors.LedgerRejectedError{
			Op:         "sendTransaction",
			ResultCode: result.ErrorXDR,
		}
	}
	return result.Hash, nil
}

// getTransaction fetches the post-application status of a Soroban
// transaction, including its decoded return value when successful.
func (s *sorobanRPC) getTransaction(ctx context.Context, hash string) (*getTransactionResult, error) {
	var result getTransactionResult
	if err := s.call(ctx, "getTransaction", map[string]string{"hash": hash}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// decodeReturnAddress extracts a contract address from a base64 ScVal return
// value; empty when the call returned something else.
func decodeReturnAddress(returnValueXDR string) string {
	if returnValueXDR == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(returnValueXDR)
	if err != nil {
		return ""
	}
	var val xdr.ScVal
	if err := xdr.SafeUnmarshal(raw, &val); err != nil {
		return ""
	}
	if val.Type != xdr.ScValTypeScvAddress || val.Address == nil {
		return ""
	}
	addr := *val.Address
	if addr.Type != xdr.ScAddressTypeScAddressTypeContract || addr.ContractId == nil {
		return ""
	}
	encoded, err := strkey.Encode(strkey.VersionByteContract, addr.ContractId[:])
	if err != nil {
		return ""
	}
	return encoded
}

// decodeReturnI128 extracts a non-negative i128 return value that fits in an
// int64; ok is false for any other shape.
func decodeReturnI128(returnValueXDR string) (int64, bool) {
	if returnValueXDR == "" {
		return 0, false
	}
	raw, err := base64.StdEncoding.DecodeString(returnValueXDR)
	if err != nil {
		return 0, false
	}
	var val xdr.ScVal
	if err := xdr.SafeUnmarshal(raw, &val); err != nil {
		return 0, false
	}
	if val.Type != xdr.ScValTypeScvI128 || val.I128 == nil {
		return 0, false
	}
	if val.I128.Hi != 0 || val.I128.Lo > xdr.Uint64(1<<63-1) {
		return 0, false
	}
	return int64(val.I128.Lo), true
}

// buildInvokeOp encodes the typed contract arguments into an
// InvokeHostFunction operation sourced from the intermediary account.
func buildInvokeOp(call ContractCall, sourceAccount string) (*txnbuild.InvokeHostFunction, error) {
	contractAddr, err := contractAddress(call.ContractID)
	if err != nil {
		return nil, err
	}

	args := make([]xdr.ScVal, 0, len(call.Args))
	for _, arg := range call.Args {
		val, err := encodeArg(arg)
		if err != nil {
			return nil, err
		}
		args = append(args, val)
	}

	return &txnbuild.InvokeHostFunction{
		SourceAccount: sourceAccount,
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: contractAddr,
				FunctionName:    xdr.ScSymbol(call.Method),
				Args:            args,
			},
		},
	}, nil
}

func contractAddress(contractID string) (xdr.ScAddress, error) {
	raw, err := strkey.Decode(strkey.VersionByteContract, contractID)
	if err != nil {
		return xdr.ScAddress{}, &apperrors.ValidationError{Field: "contract_id", Reason: "not a valid contract address"}
	}
	var cid xdr.ContractId
	copy(cid[:], raw)
	return xdr.ScAddress{
		Type:       xdr.ScAddressTypeScAddressTypeContract,
		ContractId: &cid,
	}, nil
}

func encodeArg(arg ContractArg) (xdr.ScVal, error) {
	switch arg.Kind {
	case ArgSymbol:
		sym := xdr.ScSymbol(arg.Sym)
		return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}, nil
	case ArgAddress:
		accountID, err := xdr.AddressToAccountId(arg.Address)
		if err != nil {
			return xdr.ScVal{}, &apperrors.ValidationError{Field: "address", Reason: "not a valid account address"}
		}
		addr := xdr.ScAddress{
			Type:      xdr.ScAddressTypeScAddressTypeAccount,
			AccountId: &accountID,
		}
		return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &addr}, nil
	case ArgI128:
		parts := xdr.Int128Parts{Hi: 0, Lo: xdr.Uint64(arg.I128)}
		if arg.I128 < 0 {
			return xdr.ScVal{}, &apperrors.ValidationError{Field: "amount", Reason: "must not be negative"}
		}
		return xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}, nil
	case ArgU32:
		v := xdr.Uint32(arg.U32)
		return xdr.ScVal{Type: xdr.ScValTypeScvU32, U32: &v}, nil
	}
	return xdr.ScVal{}, &apperrors.ValidationError{Field: "arg", Reason: "unsupported argument kind"}
}
