package domain

import "math/big"

// TxType labels the role of a single transaction inside a batch plan. It is
// surfaced to callers for progress reporting while a batch executes.
type TxType string

const (
	TxTypeFallbackHandler TxType = "fallback_handler"
	TxTypeDomainVerifier  TxType = "domain_verifier"
	TxTypeApproval        TxType = "approval"
	TxTypeOrderCreate     TxType = "order_create"
	TxTypeOrderRemove     TxType = "order_remove"
)

// BatchTx is one transaction descriptor inside a BatchPlan.
type BatchTx struct {
	To    string   // checksummed contract address
	Data  []byte   // ABI-encoded calldata
	Value *big.Int // wei; nil means zero
	Type  TxType
}

// BatchPlan is the ephemeral, per-attempt output of batch planning. It is
// never persisted: every attempt re-reads chain state and recomputes the plan.
//
// When SetupOnlyBatch is true the plan contains exactly one wallet
// configuration transaction; the caller must execute it, wait for
// confirmation, and re-plan to obtain the next stage.
type BatchPlan struct {
	Txs []BatchTx

	NeedsApproval        bool
	NeedsFallbackHandler bool
	NeedsDomainVerifier  bool
	SetupOnlyBatch       bool
}

// TxProgress reports per-sub-transaction progress while a batch executes.
type TxProgress struct {
	Current       int    `json:"current"`
	Total         int    `json:"total"`
	CurrentTxType TxType `json:"currentTxType"`
}
