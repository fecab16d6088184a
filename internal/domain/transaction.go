package domain

import "time"

// Flow types recorded on the ledger.
const (
	TxTypeTransfer   = "transfer"
	TxTypePayment    = "payment"
	TxTypeCrossChain = "crosschain"
	TxTypeDeposit    = "deposit"
	TxTypeWithdraw   = "withdraw"
)

// Settlement flow states. Deposit walks Requested -> CollectionPending ->
// CollectionConfirmed -> RateApplied -> TokenTransferring -> Settled.
// Withdraw walks Requested -> RateApplied -> TokenDebiting -> TokenDebited
// -> PayoutPending -> Settled. Failed is reachable from any state;
// Reconciliation means one leg completed and its counterpart did not.
const (
	StateRequested           = "requested"
	StateCollectionPending   = "collection_pending"
	StateCollectionConfirmed = "collection_confirmed"
	StateRateApplied         = "rate_applied"
	StateTokenTransferring   = "token_transferring"
	StateTokenDebiting       = "token_debiting"
	StateTokenDebited        = "token_debited"
	StatePayoutPending       = "payout_pending"
	StateSettled             = "settled"
	StateFailed              = "failed"
	StateReconciliation      = "reconciliation"
)

// Transaction is an immutable ledger entry. It is written only after the
// flow reaches Settled: a verifiable on-chain reference (or, for deposits,
// a confirmed collection) must exist first.
type Transaction struct {
	ID         int64     `json:"id"`
	RequestRef string    `json:"request_ref"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Amount     string    `json:"amount"`
	Token      string    `json:"token"`
	Chain      string    `json:"chain"`
	TxHash     string    `json:"tx_hash"`
	Type       string    `json:"type"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReconciliationEntry is an operator-queue row for a flow where one leg
// succeeded and the paired leg failed or is unconfirmed. Resolution is
// manual; no automatic compensating transfer is ever issued.
type ReconciliationEntry struct {
	ID          int64      `json:"id"`
	RequestRef  string     `json:"request_ref"`
	PhoneNumber string     `json:"phone_number"`
	FlowType    string     `json:"flow_type"`
	FailedLeg   string     `json:"failed_leg"`
	DebitTxHash string     `json:"debit_tx_hash,omitempty"`
	Amount      string     `json:"amount"`
	Chain       string     `json:"chain"`
	Detail      string     `json:"detail"`
	Resolved    bool       `json:"resolved"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}
