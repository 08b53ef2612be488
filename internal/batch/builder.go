// Package batch plans the on-chain transaction batches that register and
// deregister conditional orders, including any one-time wallet setup the
// target Safe still needs.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/chain"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
)

// maxUint256 is the unlimited ERC-20 approval amount.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ChainState is the read-only chain surface the planner inspects before
// composing a batch. *chain.Client satisfies it.
type ChainState interface {
	IsContract(ctx context.Context, addr common.Address) (bool, error)
	FallbackHandler(ctx context.Context, safe common.Address) (common.Address, error)
	SafeThreshold(ctx context.Context, safe common.Address) (*big.Int, error)
	DomainVerifier(ctx context.Context, handler, safe common.Address, domainSeparator [32]byte) (common.Address, error)
	SingleOrderRegistered(ctx context.Context, registry, safe common.Address, orderHash [32]byte) (bool, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// Builder inspects a Safe's current state and produces the minimal batch of
// transactions to bring it from that state to "conditional order live".
// Planning is read-only and deterministic for a given chain state, so a
// resumed flow that re-plans gets the same (or a smaller) batch.
type Builder struct {
	state           ChainState
	contracts       chain.Contracts
	domainSeparator [32]byte
	logger          *slog.Logger
}

// NewBuilder creates a Builder. domainSeparator is the settlement contract's
// EIP-712 domain separator, read once at wiring time.
func NewBuilder(state ChainState, contracts chain.Contracts, domainSeparator [32]byte, logger *slog.Logger) *Builder {
	return &Builder{
		state:           state,
		contracts:       contracts,
		domainSeparator: domainSeparator,
		logger:          logger.With(slog.String("component", "batch.builder")),
	}
}

// PlanCreate composes the batch that takes order live on chain. It returns
// the plan together with the conditional order hash the registration will
// have. An empty plan means the order is already fully registered.
//
// When the Safe still needs setup (wrong fallback handler or missing domain
// verifier) the returned plan contains only the setup transactions and is
// marked SetupOnlyBatch: the verifier registration must be mined before the
// order registration can be validated, so the two cannot share a batch.
func (b *Builder) PlanCreate(ctx context.Context, order *domain.Order) (domain.BatchPlan, string, error) {
	safe := common.HexToAddress(order.Owner)

	if err := b.checkWallet(ctx, safe); err != nil {
		return domain.BatchPlan{}, "", err
	}

	params := b.orderParams(order)
	orderHash := params.Hash()
	orderHashHex := hexutil.Encode(orderHash[:])

	plan := domain.BatchPlan{}

	handler, err := b.state.FallbackHandler(ctx, safe)
	if err != nil {
		return domain.BatchPlan{}, "", domain.WrapFlowError(domain.KindTransactionPreparation,
			"reading fallback handler", err)
	}
	// Wallet configuration is staged one step at a time: each setup tx must
	// be mined before the next read is meaningful, and the flow re-plans
	// after every setup batch.
	if handler != b.contracts.FallbackHandler {
		plan.NeedsFallbackHandler = true
		plan.SetupOnlyBatch = true
		plan.Txs = append(plan.Txs, domain.BatchTx{
			To:   order.Owner,
			Data: chain.EncodeSetFallbackHandler(b.contracts.FallbackHandler),
			Type: domain.TxTypeFallbackHandler,
		})
		b.logger.Info("wallet needs fallback handler", slog.String("safe", order.Owner))
		return plan, orderHashHex, nil
	}

	verifier, err := b.state.DomainVerifier(ctx, b.contracts.FallbackHandler, safe, b.domainSeparator)
	if err != nil {
		return domain.BatchPlan{}, "", domain.WrapFlowError(domain.KindTransactionPreparation,
			"reading domain verifier", err)
	}
	if verifier != b.contracts.ComposableCoW {
		plan.NeedsDomainVerifier = true
		plan.SetupOnlyBatch = true
		plan.Txs = append(plan.Txs, domain.BatchTx{
			To:   order.Owner,
			Data: chain.EncodeSetDomainVerifier(b.domainSeparator, b.contracts.ComposableCoW),
			Type: domain.TxTypeDomainVerifier,
		})
		b.logger.Info("wallet needs domain verifier", slog.String("safe", order.Owner))
		return plan, orderHashHex, nil
	}

	allowance, err := b.state.Allowance(ctx,
		common.HexToAddress(order.SellToken), safe, b.contracts.VaultRelayer)
	if err != nil {
		return domain.BatchPlan{}, "", domain.WrapFlowError(domain.KindTransactionPreparation,
			"reading allowance", err)
	}
	if allowance.Cmp(order.SellAmount) < 0 {
		plan.NeedsApproval = true
		plan.Txs = append(plan.Txs, domain.BatchTx{
			To:   order.SellToken,
			Data: chain.EncodeApprove(b.contracts.VaultRelayer, maxUint256),
			Type: domain.TxTypeApproval,
		})
	}

	registered, err := b.state.SingleOrderRegistered(ctx, b.contracts.ComposableCoW, safe, orderHash)
	if err != nil {
		return domain.BatchPlan{}, "", domain.WrapFlowError(domain.KindTransactionPreparation,
			"reading order registration", err)
	}
	if !registered {
		plan.Txs = append(plan.Txs, domain.BatchTx{
			To:   b.contracts.ComposableCoW.Hex(),
			Data: chain.EncodeCreate(params, true),
			Type: domain.TxTypeOrderCreate,
		})
	}

	return plan, orderHashHex, nil
}

// PlanRemove composes the batch that deregisters the conditional order. An
// empty plan means the registration is already gone and nothing needs mining.
func (b *Builder) PlanRemove(ctx context.Context, order *domain.Order) (domain.BatchPlan, error) {
	safe := common.HexToAddress(order.Owner)

	if err := b.checkWallet(ctx, safe); err != nil {
		return domain.BatchPlan{}, err
	}

	if order.OrderHash == "" {
		return domain.BatchPlan{}, domain.NewFlowError(domain.KindTransactionPreparation,
			"order has no on-chain registration hash")
	}
	raw, err := hexutil.Decode(order.OrderHash)
	if err != nil || len(raw) != 32 {
		return domain.BatchPlan{}, domain.NewFlowError(domain.KindTransactionPreparation,
			fmt.Sprintf("malformed order hash %q", order.OrderHash))
	}
	var orderHash [32]byte
	copy(orderHash[:], raw)

	registered, err := b.state.SingleOrderRegistered(ctx, b.contracts.ComposableCoW, safe, orderHash)
	if err != nil {
		return domain.BatchPlan{}, domain.WrapFlowError(domain.KindTransactionPreparation,
			"reading order registration", err)
	}
	if !registered {
		return domain.BatchPlan{}, nil
	}

	return domain.BatchPlan{
		Txs: []domain.BatchTx{{
			To:   b.contracts.ComposableCoW.Hex(),
			Data: chain.EncodeRemove(orderHash),
			Type: domain.TxTypeOrderRemove,
		}},
	}, nil
}

// checkWallet verifies the owner address is a deployed Safe. A plain EOA or
// empty address is fatal for the whole flow, not retryable.
func (b *Builder) checkWallet(ctx context.Context, safe common.Address) error {
	isContract, err := b.state.IsContract(ctx, safe)
	if err != nil {
		return domain.WrapFlowError(domain.KindTransactionPreparation, "checking wallet code", err)
	}
	if !isContract {
		return domain.NewFlowError(domain.KindNotSafeWallet,
			"owner address has no contract code")
	}

	threshold, err := b.state.SafeThreshold(ctx, safe)
	if err != nil {
		return domain.NewFlowError(domain.KindUnsupportedWallet,
			"wallet does not expose a Safe threshold")
	}
	if threshold.Sign() <= 0 {
		return domain.NewFlowError(domain.KindUnsupportedWallet,
			"wallet reports zero signing threshold")
	}
	return nil
}

// orderParams derives the conditional-order registration parameters. The
// salt is a pure function of the owner and the off-chain order identity, so
// re-planning the same swap always targets the same registration.
func (b *Builder) orderParams(order *domain.Order) chain.ConditionalOrderParams {
	seed := saltSeed(order)
	var salt [32]byte
	copy(salt[:], ethcrypto.Keccak256([]byte("polyswap:"+order.Owner+":"+seed)))

	return chain.ConditionalOrderParams{
		Handler:     b.contracts.OrderHandler,
		Salt:        salt,
		StaticInput: encodeStaticInput(order),
	}
}

// saltSeed prefers the Polymarket order hash as the identity anchor; orders
// without an off-chain leg fall back to their economic parameters.
func saltSeed(order *domain.Order) string {
	if order.PolymarketOrderHash != nil && *order.PolymarketOrderHash != "" {
		return *order.PolymarketOrderHash
	}
	return fmt.Sprintf("%s:%s:%s:%s:%d:%d",
		order.SellToken, order.BuyToken,
		order.SellAmount.String(), order.MinBuyAmount.String(),
		order.StartTimestamp, order.DeadlineTimestamp)
}

// encodeStaticInput ABI-encodes the handler's per-order input: six static
// words in declaration order.
func encodeStaticInput(order *domain.Order) []byte {
	out := make([]byte, 0, 6*32)
	out = append(out, common.LeftPadBytes(common.HexToAddress(order.SellToken).Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(common.HexToAddress(order.BuyToken).Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(order.SellAmount.Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(order.MinBuyAmount.Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(big.NewInt(order.StartTimestamp).Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(big.NewInt(order.DeadlineTimestamp).Bytes(), 32)...)
	return out
}
