// Package ledger wraps all Stellar access behind a narrow gateway. It holds
// no business state: lifecycle, reservation, and swap bookkeeping live in
// their owning packages and only reach the chain through this one.
package ledger

import (
	"context"

	"github.com/stellar/go/amount"
)

// Stroops are the ledger's native fixed-point unit: 1 token = 10^7 stroops.
// All amounts cross the gateway as int64 stroops.
const StroopsPerUnit = 10_000_000

// FormatStroops renders a stroop amount as a 7-decimal unit string.
func FormatStroops(stroops int64) string {
	return amount.StringFromInt64(stroops)
}

// Account is the slice of on-ledger account state the marketplace reads.
type Account struct {
	Address              string
	Sequence             int64
	NativeBalanceStroops int64
}

// Transaction is the confirmation record for a submitted transaction. For
// contract invocations Result carries the decoded return value when the
// contract returned an address (e.g. a freshly deployed token contract).
type Transaction struct {
	Hash       string
	Successful bool
	Ledger     int32
	ResultCode string
	Result     string
}

// Payment is a settled payment operation observed on the ledger.
type Payment struct {
	TxHash        string
	From          string
	To            string
	AmountStroops int64
}

// PaymentDescriptor is an unsigned payment transaction handed to the buyer's
// wallet for out-of-band signing. The service never sees the buyer's key.
type PaymentDescriptor struct {
	Source        string `json:"source"`
	Destination   string `json:"destination"`
	AmountStroops int64  `json:"amount_stroops"`
	Memo          string `json:"memo"`
	EnvelopeXDR   string `json:"envelope_xdr"`
	Network       string `json:"network"`
}

// ContractCall describes a Soroban contract invocation authorized and signed
// by the intermediary account.
type ContractCall struct {
	ContractID string
	Method     string
	Args       []ContractArg
}

// ContractArg is one typed argument of a contract call.
type ContractArg struct {
	Kind    ArgKind
	Sym     string
	Address string
	I128    int64
	U32     uint32
}

type ArgKind int

const (
	ArgSymbol ArgKind = iota
	ArgAddress
	ArgI128
	ArgU32
)

// Gateway is the only door to the distributed ledger. Reads may be called
// concurrently; writes from the intermediary account must go through the
// Submitter so sequence numbers stay ordered.
type Gateway interface {
	// GetAccount looks up sequence number and native balance.
	GetAccount(ctx context.Context, address string) (*Account, error)

	// BuildPayment constructs an unsigned native-asset payment from source to
	// destination, using the source account's live sequence number.
	BuildPayment(ctx context.Context, source, destination string, amountStroops int64, memo string) (*PaymentDescriptor, error)

	// GetTransaction fetches the confirmation state of a transaction by hash.
	GetTransaction(ctx context.Context, hash string) (*Transaction, error)

	// FindPayment searches settled ledger history for a successful native
	// payment of at least minStroops from one account to another.
	FindPayment(ctx context.Context, from, to string, minStroops int64) (*Payment, error)

	// InvokeContract simulates, signs with the intermediary key, and submits
	// a Soroban contract invocation, waiting for ledger finality.
	InvokeContract(ctx context.Context, call ContractCall) (*Transaction, error)

	// SendPayment signs a native payment from the intermediary account and
	// submits it. Like InvokeContract it must go through the Submitter.
	SendPayment(ctx context.Context, destination string, amountStroops int64, memo string) (*Transaction, error)

	// SimulateValue executes a read-only contract call through simulation and
	// returns its numeric (i128) result. Nothing is submitted or signed.
	SimulateValue(ctx context.Context, call ContractCall) (int64, error)

	// SubmitSigned submits an envelope that was signed outside the service,
	// waiting for ledger finality. Used for delegation transactions the
	// service must never sign itself.
	SubmitSigned(ctx context.Context, envelopeXDR string) (*Transaction, error)

	// IntermediaryAddress is the public key of the trusted service account.
	IntermediaryAddress() string
}
