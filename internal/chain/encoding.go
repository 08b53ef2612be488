// Package chain talks to the EVM chain: read-only wallet introspection, ABI
// calldata construction for the Safe and conditional-order contracts, raw
// transaction submission, and receipt confirmation.
package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Safe MultiSend operation types.
const (
	OpCall         uint8 = 0
	OpDelegateCall uint8 = 1
)

// 4-byte function selectors for every contract call the service makes.
var (
	selSetFallbackHandler = selector("setFallbackHandler(address)")
	selSetDomainVerifier  = selector("setDomainVerifier(bytes32,address)")
	selApprove            = selector("approve(address,uint256)")
	selCreate             = selector("create((address,bytes32,bytes),bool)")
	selRemove             = selector("remove(bytes32)")
	selMultiSend          = selector("multiSend(bytes)")
	selExecTransaction    = selector("execTransaction(address,uint256,bytes,uint8,uint256,uint256,uint256,address,address,bytes)")

	selAllowance        = selector("allowance(address,address)")
	selBalanceOf        = selector("balanceOf(address)")
	selGetThreshold     = selector("getThreshold()")
	selIsOwner          = selector("isOwner(address)")
	selDomainVerifiers  = selector("domainVerifiers(address,bytes32)")
	selSingleOrders     = selector("singleOrders(address,bytes32)")
	selIsValidSignature = selector("isValidSignature(bytes32,bytes)")
	selDomainSeparator  = selector("domainSeparator()")
)

// selector returns the first 4 bytes of keccak256(signature).
func selector(signature string) []byte {
	return ethcrypto.Keccak256([]byte(signature))[:4]
}

// ConditionalOrderParams mirrors the on-chain struct a conditional-order
// framework registers per order: the programmatic handler, a salt making the
// registration unique, and the handler-specific static input.
type ConditionalOrderParams struct {
	Handler     common.Address
	Salt        [32]byte
	StaticInput []byte
}

// Hash returns the on-chain identity of the registration,
// keccak256(abi.encode(params)). The same params always hash to the same
// value, which is what makes re-planning idempotent.
func (p ConditionalOrderParams) Hash() [32]byte {
	// abi.encode of a single dynamic struct: a 0x20 head offset, then the
	// tuple body.
	encoded := append(uint256Word(big.NewInt(0x20)), p.encodeTuple()...)
	var h [32]byte
	copy(h[:], ethcrypto.Keccak256(encoded))
	return h
}

// encodeTuple ABI-encodes the params struct body: two static words, the
// offset to the dynamic staticInput, then its length and padded bytes.
func (p ConditionalOrderParams) encodeTuple() []byte {
	out := make([]byte, 0, 96+32+padLen(len(p.StaticInput)))
	out = append(out, addressWord(p.Handler)...)
	out = append(out, p.Salt[:]...)
	out = append(out, uint256Word(big.NewInt(0x60))...)
	out = append(out, uint256Word(big.NewInt(int64(len(p.StaticInput))))...)
	out = append(out, rightPad(p.StaticInput)...)
	return out
}

// EncodeSetFallbackHandler builds calldata for Safe.setFallbackHandler.
func EncodeSetFallbackHandler(handler common.Address) []byte {
	return append(append([]byte{}, selSetFallbackHandler...), addressWord(handler)...)
}

// EncodeSetDomainVerifier builds calldata for
// ExtensibleFallbackHandler.setDomainVerifier. The call must be made through
// the Safe itself (the handler reads msg.sender as the Safe).
func EncodeSetDomainVerifier(domainSeparator [32]byte, verifier common.Address) []byte {
	out := append([]byte{}, selSetDomainVerifier...)
	out = append(out, domainSeparator[:]...)
	out = append(out, addressWord(verifier)...)
	return out
}

// EncodeApprove builds calldata for ERC20.approve.
func EncodeApprove(spender common.Address, amount *big.Int) []byte {
	out := append([]byte{}, selApprove...)
	out = append(out, addressWord(spender)...)
	out = append(out, uint256Word(amount)...)
	return out
}

// EncodeCreate builds calldata for ComposableCoW.create(params, dispatch).
func EncodeCreate(params ConditionalOrderParams, dispatch bool) []byte {
	tuple := params.encodeTuple()

	out := append([]byte{}, selCreate...)
	// Head: offset to the tuple (past the two head words), then the bool.
	out = append(out, uint256Word(big.NewInt(0x40))...)
	out = append(out, boolWord(dispatch)...)
	out = append(out, tuple...)
	return out
}

// EncodeRemove builds calldata for ComposableCoW.remove(singleOrderHash).
func EncodeRemove(orderHash [32]byte) []byte {
	return append(append([]byte{}, selRemove...), orderHash[:]...)
}

// PackMultiSendTx packs a single transaction in the MultiSend wire format:
// uint8 operation || address to || uint256 value || uint256 dataLength || bytes data.
// Fields are tightly packed, not ABI-padded.
func PackMultiSendTx(op uint8, to common.Address, value *big.Int, data []byte) []byte {
	out := make([]byte, 0, 1+20+32+32+len(data))
	out = append(out, op)
	out = append(out, to.Bytes()...)
	out = append(out, uint256Word(value)...)
	out = append(out, uint256Word(big.NewInt(int64(len(data))))...)
	out = append(out, data...)
	return out
}

// EncodeMultiSend builds calldata for MultiSend.multiSend(packedTransactions).
func EncodeMultiSend(packed []byte) []byte {
	out := append([]byte{}, selMultiSend...)
	out = append(out, uint256Word(big.NewInt(0x20))...)
	out = append(out, uint256Word(big.NewInt(int64(len(packed))))...)
	out = append(out, rightPad(packed)...)
	return out
}

// EncodeExecTransaction builds calldata for Safe.execTransaction with zeroed
// gas-refund parameters. data and signatures are the two dynamic arguments.
func EncodeExecTransaction(to common.Address, value *big.Int, data []byte, operation uint8, signatures []byte) []byte {
	// 10 head words; the two dynamic tails follow in argument order.
	dataOffset := int64(10 * 32)
	sigOffset := dataOffset + 32 + int64(padLen(len(data)))

	out := append([]byte{}, selExecTransaction...)
	out = append(out, addressWord(to)...)
	out = append(out, uint256Word(value)...)
	out = append(out, uint256Word(big.NewInt(dataOffset))...)
	out = append(out, uint256Word(big.NewInt(int64(operation)))...)
	out = append(out, uint256Word(big.NewInt(0))...) // safeTxGas
	out = append(out, uint256Word(big.NewInt(0))...) // baseGas
	out = append(out, uint256Word(big.NewInt(0))...) // gasPrice
	out = append(out, addressWord(common.Address{})...)
	out = append(out, addressWord(common.Address{})...)
	out = append(out, uint256Word(big.NewInt(sigOffset))...)

	out = append(out, uint256Word(big.NewInt(int64(len(data))))...)
	out = append(out, rightPad(data)...)
	out = append(out, uint256Word(big.NewInt(int64(len(signatures))))...)
	out = append(out, rightPad(signatures)...)
	return out
}

// ---------------------------------------------------------------------------
// Read-call calldata
// ---------------------------------------------------------------------------

func encodeAllowance(owner, spender common.Address) []byte {
	out := append([]byte{}, selAllowance...)
	out = append(out, addressWord(owner)...)
	out = append(out, addressWord(spender)...)
	return out
}

func encodeBalanceOf(owner common.Address) []byte {
	return append(append([]byte{}, selBalanceOf...), addressWord(owner)...)
}

func encodeGetThreshold() []byte {
	return append([]byte{}, selGetThreshold...)
}

func encodeIsOwner(owner common.Address) []byte {
	return append(append([]byte{}, selIsOwner...), addressWord(owner)...)
}

func encodeDomainVerifiers(safe common.Address, domainSeparator [32]byte) []byte {
	out := append([]byte{}, selDomainVerifiers...)
	out = append(out, addressWord(safe)...)
	out = append(out, domainSeparator[:]...)
	return out
}

func encodeSingleOrders(safe common.Address, orderHash [32]byte) []byte {
	out := append([]byte{}, selSingleOrders...)
	out = append(out, addressWord(safe)...)
	out = append(out, orderHash[:]...)
	return out
}

func encodeIsValidSignature(digest [32]byte, signature []byte) []byte {
	out := append([]byte{}, selIsValidSignature...)
	out = append(out, digest[:]...)
	out = append(out, uint256Word(big.NewInt(0x40))...)
	out = append(out, uint256Word(big.NewInt(int64(len(signature))))...)
	out = append(out, rightPad(signature)...)
	return out
}

func encodeDomainSeparator() []byte {
	return append([]byte{}, selDomainSeparator...)
}

// ---------------------------------------------------------------------------
// Word helpers
// ---------------------------------------------------------------------------

func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

func uint256Word(n *big.Int) []byte {
	if n == nil {
		n = big.NewInt(0)
	}
	return common.LeftPadBytes(n.Bytes(), 32)
}

func boolWord(b bool) []byte {
	w := make([]byte, 32)
	if b {
		w[31] = 1
	}
	return w
}

// rightPad pads data with zeros to a multiple of 32 bytes.
func rightPad(data []byte) []byte {
	rem := len(data) % 32
	if rem == 0 {
		return data
	}
	return append(append([]byte{}, data...), make([]byte, 32-rem)...)
}

// padLen returns the length of data after right-padding to 32 bytes.
func padLen(n int) int {
	if rem := n % 32; rem != 0 {
		return n + 32 - rem
	}
	return n
}
