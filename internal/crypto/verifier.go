package crypto

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
)

const (
	// maxPastSkew is how old a signed ownership message may be.
	maxPastSkew = 300 * time.Second
	// maxFutureSkew is the tolerated clock drift into the future.
	maxFutureSkew = 60 * time.Second
)

// ContractVerifier calls a smart wallet's EIP-1271 signature-validation entry
// point and reports whether the contract returned the magic value.
type ContractVerifier interface {
	IsValidSignature(ctx context.Context, wallet common.Address, digest [32]byte, signature []byte) (bool, error)
}

// Verifier proves that a caller controls (or co-controls) a wallet address.
// It tries plain EOA recovery first and falls back to EIP-1271 contract-wallet
// verification, so externally-owned accounts and Safe multisigs are both
// accepted through the same entry point.
type Verifier struct {
	chainID   int64
	contracts ContractVerifier
	now       func() time.Time
}

// NewVerifier creates a Verifier for the given chain. contracts may be nil,
// in which case only EOA signatures are accepted.
func NewVerifier(chainID int64, contracts ContractVerifier) *Verifier {
	return &Verifier{
		chainID:   chainID,
		contracts: contracts,
		now:       time.Now,
	}
}

// OwnershipMessage builds the canonical message a wallet signs to authorize a
// state-changing action on an order. Binding the action, order identifier,
// chain id, and timestamp into the template prevents replaying one signature
// against another order, chain, or action.
func OwnershipMessage(action, orderHash string, chainID, timestamp int64) string {
	return fmt.Sprintf("PolySwap %s\nOrder: %s\nChain: %d\nTimestamp: %d",
		action, orderHash, chainID, timestamp)
}

// Verify checks a signed ownership message against the expected wallet
// address. It returns nil when either the EOA or the contract-wallet path
// accepts the signature, and a FlowError with kind invalid_signature
// otherwise.
func (v *Verifier) Verify(ctx context.Context, action, orderHash string, timestamp int64, chainID int64, signature string, expected string) error {
	now := v.now().Unix()
	if timestamp > now+int64(maxFutureSkew.Seconds()) {
		return domain.NewFlowError(domain.KindInvalidSignature, "future-timestamp")
	}
	if timestamp < now-int64(maxPastSkew.Seconds()) {
		return domain.NewFlowError(domain.KindInvalidSignature, "expired")
	}
	if chainID != v.chainID {
		return domain.NewFlowError(domain.KindInvalidSignature,
			fmt.Sprintf("chain id %d does not match %d", chainID, v.chainID))
	}

	sig, err := hexutil.Decode(ensureHexPrefix(signature))
	if err != nil {
		return domain.WrapFlowError(domain.KindInvalidSignature, "malformed signature", err)
	}

	message := OwnershipMessage(action, orderHash, chainID, timestamp)
	digest := personalSignHash([]byte(message))

	// EOA path: recover the signer and compare case-insensitively.
	if recovered, ok := recoverAddress(digest, sig); ok {
		if strings.EqualFold(recovered.Hex(), expected) {
			return nil
		}
	}

	// Contract-wallet path: ask the wallet itself via EIP-1271.
	if v.contracts != nil {
		var d [32]byte
		copy(d[:], digest)
		valid, err := v.contracts.IsValidSignature(ctx, common.HexToAddress(expected), d, sig)
		if err == nil && valid {
			return nil
		}
	}

	return domain.NewFlowError(domain.KindInvalidSignature, "invalid signature")
}

// personalSignHash computes the EIP-191 digest used by personal_sign:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(msg) || msg)
func personalSignHash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return ethcrypto.Keccak256([]byte(prefix), message)
}

// recoverAddress attempts secp256k1 recovery of a 65-byte signature over the
// given digest. Wallets return v in {27,28}; go-ethereum expects {0,1}.
func recoverAddress(digest, sig []byte) (common.Address, bool) {
	if len(sig) != 65 {
		return common.Address{}, false
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, false
	}
	return ethcrypto.PubkeyToAddress(*pub), true
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
