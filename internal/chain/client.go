package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// fallbackHandlerSlot is the Safe storage slot holding the fallback handler
// address: keccak256("fallback_manager.handler.address").
var fallbackHandlerSlot = common.HexToHash(
	"0x6c9a6c4a39284e37ed1cf53d337577d14212a4870fb976a4366c693b939918d5")

// eip1271Magic is the return value a contract wallet produces for a valid
// signature: bytes4(keccak256("isValidSignature(bytes32,bytes)")).
var eip1271Magic = [4]byte{0x16, 0x26, 0xba, 0x7e}

// Contracts holds the protocol contract addresses for the configured chain.
type Contracts struct {
	// ComposableCoW is the conditional-order registry.
	ComposableCoW common.Address
	// OrderHandler is the programmatic order type registered per swap.
	OrderHandler common.Address
	// FallbackHandler is the extensible fallback handler Safes must run.
	FallbackHandler common.Address
	// Settlement is the CoW settlement contract whose domain separator the
	// verifier is keyed under.
	Settlement common.Address
	// VaultRelayer is the spender that must hold an ERC-20 allowance.
	VaultRelayer common.Address
	// MultiSend is the batching contract invoked via delegatecall.
	MultiSend common.Address
}

// Client wraps an Ethereum JSON-RPC connection with the handful of typed
// reads and writes the swap flows need.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
}

// Dial connects to the given RPC endpoint and verifies the remote chain ID
// matches the configured one.
func Dial(ctx context.Context, rpcURL string, wantChainID int64) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dialing %s: %w", rpcURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: fetching chain id: %w", err)
	}
	if chainID.Int64() != wantChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: endpoint chain id %d, expected %d", chainID.Int64(), wantChainID)
	}

	return &Client{eth: eth, chainID: chainID}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// ChainID returns the connected chain's id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// IsContract reports whether code is deployed at addr.
func (c *Client) IsContract(ctx context.Context, addr common.Address) (bool, error) {
	code, err := c.eth.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("chain: code at %s: %w", addr.Hex(), err)
	}
	return len(code) > 0, nil
}

// FallbackHandler reads the Safe's fallback handler address straight from its
// storage slot, which works regardless of the Safe version.
func (c *Client) FallbackHandler(ctx context.Context, safe common.Address) (common.Address, error) {
	raw, err := c.eth.StorageAt(ctx, safe, fallbackHandlerSlot, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: fallback handler storage of %s: %w", safe.Hex(), err)
	}
	return common.BytesToAddress(raw), nil
}

// SafeThreshold returns the Safe's signing threshold. A non-Safe contract
// returns an error here, which callers use to detect unsupported wallets.
func (c *Client) SafeThreshold(ctx context.Context, safe common.Address) (*big.Int, error) {
	out, err := c.call(ctx, safe, encodeGetThreshold())
	if err != nil {
		return nil, fmt.Errorf("chain: threshold of %s: %w", safe.Hex(), err)
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("chain: threshold of %s: short return (%d bytes)", safe.Hex(), len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

// IsSafeOwner reports whether owner is registered on the Safe.
func (c *Client) IsSafeOwner(ctx context.Context, safe, owner common.Address) (bool, error) {
	out, err := c.call(ctx, safe, encodeIsOwner(owner))
	if err != nil {
		return false, fmt.Errorf("chain: isOwner on %s: %w", safe.Hex(), err)
	}
	return wordIsTrue(out), nil
}

// DomainVerifier returns the verifier registered for (safe, domainSeparator)
// on the fallback handler, or the zero address when none is set.
func (c *Client) DomainVerifier(ctx context.Context, handler, safe common.Address, domainSeparator [32]byte) (common.Address, error) {
	out, err := c.call(ctx, handler, encodeDomainVerifiers(safe, domainSeparator))
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: domainVerifiers on %s: %w", handler.Hex(), err)
	}
	if len(out) < 32 {
		return common.Address{}, nil
	}
	return common.BytesToAddress(out[:32]), nil
}

// SingleOrderRegistered reports whether the conditional order identified by
// orderHash is currently registered for safe.
func (c *Client) SingleOrderRegistered(ctx context.Context, registry, safe common.Address, orderHash [32]byte) (bool, error) {
	out, err := c.call(ctx, registry, encodeSingleOrders(safe, orderHash))
	if err != nil {
		return false, fmt.Errorf("chain: singleOrders on %s: %w", registry.Hex(), err)
	}
	return wordIsTrue(out), nil
}

// Allowance returns the ERC-20 allowance owner has granted spender.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, encodeAllowance(owner, spender))
	if err != nil {
		return nil, fmt.Errorf("chain: allowance on %s: %w", token.Hex(), err)
	}
	if len(out) < 32 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

// Balance returns the ERC-20 balance of owner.
func (c *Client) Balance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, encodeBalanceOf(owner))
	if err != nil {
		return nil, fmt.Errorf("chain: balanceOf on %s: %w", token.Hex(), err)
	}
	if len(out) < 32 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

// IsValidSignature performs an EIP-1271 check against a contract wallet. A
// reverting call means the signature is invalid, not a transport error.
func (c *Client) IsValidSignature(ctx context.Context, wallet common.Address, digest [32]byte, signature []byte) (bool, error) {
	out, err := c.call(ctx, wallet, encodeIsValidSignature(digest, signature))
	if err != nil {
		// Contract wallets revert on invalid signatures.
		return false, nil
	}
	if len(out) < 4 {
		return false, nil
	}
	return [4]byte(out[:4]) == eip1271Magic, nil
}

// DomainSeparator reads the EIP-712 domain separator of a settlement
// contract.
func (c *Client) DomainSeparator(ctx context.Context, contract common.Address) ([32]byte, error) {
	var sep [32]byte
	out, err := c.call(ctx, contract, encodeDomainSeparator())
	if err != nil {
		return sep, fmt.Errorf("chain: domainSeparator on %s: %w", contract.Hex(), err)
	}
	if len(out) < 32 {
		return sep, fmt.Errorf("chain: domainSeparator on %s: short return (%d bytes)", contract.Hex(), len(out))
	}
	copy(sep[:], out[:32])
	return sep, nil
}

// PendingNonce returns the next nonce for addr including pending txs.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := c.eth.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("chain: pending nonce of %s: %w", addr.Hex(), err)
	}
	return n, nil
}

// SuggestGasPrice returns the node's suggested gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggest gas price: %w", err)
	}
	return price, nil
}

// EstimateGas estimates gas for the given call.
func (c *Client) EstimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return 0, fmt.Errorf("chain: estimate gas: %w", err)
	}
	return gas, nil
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("chain: send transaction %s: %w", tx.Hash().Hex(), err)
	}
	return nil
}

// Receipt returns the receipt for hash, or ethereum.NotFound while the
// transaction is still pending.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, hash)
}

// call performs an eth_call against the latest block.
func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// wordIsTrue reports whether a returned ABI word decodes to boolean true.
func wordIsTrue(out []byte) bool {
	if len(out) < 32 {
		return false
	}
	for _, b := range out[:32] {
		if b != 0 {
			return true
		}
	}
	return false
}
