// Package executor turns a planned transaction batch into a mined Safe
// execTransaction call signed by the embedded session key.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/chain"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
)

// gasLimitMarginPct is added on top of the node's gas estimate.
const gasLimitMarginPct = 20

// TxSubmitter is the chain surface the executor needs to build, sign, and
// broadcast a transaction. *chain.Client satisfies it.
type TxSubmitter interface {
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	SafeThreshold(ctx context.Context, safe common.Address) (*big.Int, error)
	IsSafeOwner(ctx context.Context, safe, owner common.Address) (bool, error)
}

// SessionSigner signs outgoing transactions and produces the Safe
// pre-validated owner signature. *crypto.Signer satisfies it.
type SessionSigner interface {
	Address() common.Address
	SignTransaction(tx *types.Transaction) (*types.Transaction, error)
	SafeExecSignature() []byte
}

// Executor wraps a batch into a single Safe execTransaction: one inner call
// directly, several inner calls through MultiSend via delegatecall.
type Executor struct {
	chain     TxSubmitter
	signer    SessionSigner
	multiSend common.Address
	logger    *slog.Logger
}

// NewExecutor creates an Executor submitting through the given chain client.
func NewExecutor(submitter TxSubmitter, signer SessionSigner, multiSend common.Address, logger *slog.Logger) *Executor {
	return &Executor{
		chain:     submitter,
		signer:    signer,
		multiSend: multiSend,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Execute broadcasts the batch as a Safe execTransaction and returns the
// transaction hash. It does not wait for confirmation.
func (e *Executor) Execute(ctx context.Context, safe common.Address, plan domain.BatchPlan) (common.Hash, error) {
	if len(plan.Txs) == 0 {
		return common.Hash{}, domain.NewFlowError(domain.KindTransactionPreparation,
			"refusing to execute an empty batch")
	}

	if err := e.checkAuthority(ctx, safe); err != nil {
		return common.Hash{}, err
	}

	innerTo, innerValue, innerData, op := composeInner(e.multiSend, plan.Txs)

	execData := chain.EncodeExecTransaction(innerTo, innerValue, innerData, op, e.signer.SafeExecSignature())

	from := e.signer.Address()
	nonce, err := e.chain.PendingNonce(ctx, from)
	if err != nil {
		return common.Hash{}, domain.WrapFlowError(domain.KindTransactionPreparation, "fetching nonce", err)
	}
	gasPrice, err := e.chain.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, domain.WrapFlowError(domain.KindTransactionPreparation, "fetching gas price", err)
	}
	gasLimit, err := e.chain.EstimateGas(ctx, from, safe, big.NewInt(0), execData)
	if err != nil {
		return common.Hash{}, classifySubmitError("gas estimation", err)
	}
	gasLimit += gasLimit * gasLimitMarginPct / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &safe,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     execData,
	})

	signed, err := e.signer.SignTransaction(tx)
	if err != nil {
		return common.Hash{}, domain.WrapFlowError(domain.KindTransactionPreparation, "signing", err)
	}

	if err := e.chain.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, classifySubmitError("broadcast", err)
	}

	e.logger.Info("batch submitted",
		slog.String("safe", safe.Hex()),
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.Int("batch_size", len(plan.Txs)),
		slog.Bool("setup_only", plan.SetupOnlyBatch),
	)

	return signed.Hash(), nil
}

// checkAuthority verifies the session key can execute on its own: it must be
// an owner and the Safe threshold must be exactly one.
func (e *Executor) checkAuthority(ctx context.Context, safe common.Address) error {
	threshold, err := e.chain.SafeThreshold(ctx, safe)
	if err != nil {
		return domain.WrapFlowError(domain.KindTransactionPreparation, "reading threshold", err)
	}
	if threshold.Cmp(big.NewInt(1)) > 0 {
		return domain.NewFlowError(domain.KindNeedsSignatures,
			fmt.Sprintf("safe requires %s signatures", threshold.String()))
	}

	isOwner, err := e.chain.IsSafeOwner(ctx, safe, e.signer.Address())
	if err != nil {
		return domain.WrapFlowError(domain.KindTransactionPreparation, "reading owners", err)
	}
	if !isOwner {
		return domain.NewFlowError(domain.KindNeedsSignatures,
			"session key is not a safe owner")
	}
	return nil
}

// composeInner collapses the batch into the single inner call a Safe
// executes: the transaction itself for a one-element batch, or a MultiSend
// delegatecall for anything larger.
func composeInner(multiSend common.Address, txs []domain.BatchTx) (common.Address, *big.Int, []byte, uint8) {
	if len(txs) == 1 {
		return common.HexToAddress(txs[0].To), txValue(txs[0]), txs[0].Data, chain.OpCall
	}

	var packed []byte
	for _, tx := range txs {
		packed = append(packed, chain.PackMultiSendTx(chain.OpCall,
			common.HexToAddress(tx.To), txValue(tx), tx.Data)...)
	}
	return multiSend, big.NewInt(0), chain.EncodeMultiSend(packed), chain.OpDelegateCall
}

func txValue(tx domain.BatchTx) *big.Int {
	if tx.Value == nil {
		return big.NewInt(0)
	}
	return tx.Value
}

// classifySubmitError maps node errors onto flow error kinds so the state
// machine can decide retryability.
func classifySubmitError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return domain.WrapFlowError(domain.KindInsufficientBalance, op, err)
	case strings.Contains(msg, "execution reverted"):
		return domain.WrapFlowError(domain.KindSafeTransactionRefused, op, err)
	default:
		return domain.WrapFlowError(domain.KindTransactionRefused, op, err)
	}
}
