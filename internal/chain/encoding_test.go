package chain

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestSelectors(t *testing.T) {
	// Spot-check well-known selectors against their published values.
	cases := []struct {
		sel  []byte
		want string
	}{
		{selApprove, "095ea7b3"},
		{selSetFallbackHandler, "f08a0323"},
		{selMultiSend, "8d80ff0a"},
		{selExecTransaction, "6a761202"},
		{selAllowance, "dd62ed3e"},
		{selBalanceOf, "70a08231"},
		{selGetThreshold, "e75235b8"},
		{selIsValidSignature, "1626ba7e"},
	}
	for _, c := range cases {
		if got := hex.EncodeToString(c.sel); got != c.want {
			t.Errorf("selector = %s, want %s", got, c.want)
		}
	}
}

func TestConditionalOrderParamsHash(t *testing.T) {
	params := ConditionalOrderParams{
		Handler:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Salt:        [32]byte{0xaa},
		StaticInput: bytes.Repeat([]byte{0x01}, 192),
	}

	t.Run("deterministic", func(t *testing.T) {
		if params.Hash() != params.Hash() {
			t.Error("same params hashed differently")
		}
	})

	t.Run("salt changes hash", func(t *testing.T) {
		other := params
		other.Salt = [32]byte{0xbb}
		if params.Hash() == other.Hash() {
			t.Error("different salts produced the same hash")
		}
	})

	t.Run("matches manual abi encoding", func(t *testing.T) {
		// abi.encode(params) for a dynamic struct: head offset word, handler,
		// salt, offset to staticInput, length, padded bytes.
		var manual []byte
		manual = append(manual, common.LeftPadBytes(big.NewInt(0x20).Bytes(), 32)...)
		manual = append(manual, common.LeftPadBytes(params.Handler.Bytes(), 32)...)
		manual = append(manual, params.Salt[:]...)
		manual = append(manual, common.LeftPadBytes(big.NewInt(0x60).Bytes(), 32)...)
		manual = append(manual, common.LeftPadBytes(big.NewInt(192).Bytes(), 32)...)
		manual = append(manual, params.StaticInput...)

		var want [32]byte
		copy(want[:], ethcrypto.Keccak256(manual))
		if params.Hash() != want {
			t.Error("Hash does not match manual abi.encode")
		}
	})
}

func TestPackMultiSendTx(t *testing.T) {
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data := []byte{0xde, 0xad, 0xbe, 0xef}

	packed := PackMultiSendTx(OpDelegateCall, to, big.NewInt(0), data)

	if len(packed) != 1+20+32+32+4 {
		t.Fatalf("packed length = %d, want %d", len(packed), 1+20+32+32+4)
	}
	if packed[0] != OpDelegateCall {
		t.Errorf("operation = %d, want %d", packed[0], OpDelegateCall)
	}
	if !bytes.Equal(packed[1:21], to.Bytes()) {
		t.Error("to address not tightly packed")
	}
	// dataLength word.
	gotLen := new(big.Int).SetBytes(packed[53:85])
	if gotLen.Int64() != 4 {
		t.Errorf("dataLength = %d, want 4", gotLen.Int64())
	}
	if !bytes.Equal(packed[85:], data) {
		t.Error("data not appended verbatim")
	}
}

func TestEncodeMultiSend(t *testing.T) {
	packed := bytes.Repeat([]byte{0x01}, 33) // force padding
	out := EncodeMultiSend(packed)

	if !bytes.Equal(out[:4], selMultiSend) {
		t.Error("wrong selector")
	}
	// Offset word must be 0x20, length word the unpadded length.
	if new(big.Int).SetBytes(out[4:36]).Int64() != 0x20 {
		t.Error("offset word != 0x20")
	}
	if new(big.Int).SetBytes(out[36:68]).Int64() != 33 {
		t.Error("length word != 33")
	}
	// Tail must be padded to 64 bytes.
	if len(out) != 4+32+32+64 {
		t.Errorf("total length = %d, want %d", len(out), 4+32+32+64)
	}
}

func TestEncodeExecTransaction(t *testing.T) {
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	data := bytes.Repeat([]byte{0x02}, 36)
	sigs := make([]byte, 65)

	out := EncodeExecTransaction(to, big.NewInt(0), data, OpCall, sigs)

	if !bytes.Equal(out[:4], selExecTransaction) {
		t.Fatal("wrong selector")
	}
	body := out[4:]

	word := func(i int) *big.Int {
		return new(big.Int).SetBytes(body[i*32 : (i+1)*32])
	}

	// Head layout: to, value, dataOffset, operation, safeTxGas, baseGas,
	// gasPrice, gasToken, refundReceiver, sigOffset.
	if word(2).Int64() != 320 {
		t.Errorf("data offset = %d, want 320", word(2).Int64())
	}
	if word(3).Int64() != int64(OpCall) {
		t.Errorf("operation = %d, want %d", word(3).Int64(), OpCall)
	}
	for i := 4; i <= 8; i++ {
		if word(i).Sign() != 0 {
			t.Errorf("gas/refund word %d not zero", i)
		}
	}
	// Signatures tail starts after the data tail: 320 + 32 + padded(36)=64.
	wantSigOffset := int64(320 + 32 + 64)
	if word(9).Int64() != wantSigOffset {
		t.Errorf("sig offset = %d, want %d", word(9).Int64(), wantSigOffset)
	}

	// Data tail: length word then padded bytes.
	if word(10).Int64() != 36 {
		t.Errorf("data length = %d, want 36", word(10).Int64())
	}
	sigLenWord := new(big.Int).SetBytes(body[wantSigOffset : wantSigOffset+32])
	if sigLenWord.Int64() != 65 {
		t.Errorf("signatures length = %d, want 65", sigLenWord.Int64())
	}
}

func TestEncodeCreate(t *testing.T) {
	params := ConditionalOrderParams{
		Handler:     common.HexToAddress("0x4444444444444444444444444444444444444444"),
		Salt:        [32]byte{0x01},
		StaticInput: make([]byte, 192),
	}
	out := EncodeCreate(params, true)

	if !bytes.Equal(out[:4], selCreate) {
		t.Fatal("wrong selector")
	}
	body := out[4:]
	// Head: tuple offset 0x40, dispatch bool.
	if new(big.Int).SetBytes(body[:32]).Int64() != 0x40 {
		t.Error("tuple offset != 0x40")
	}
	if body[63] != 1 {
		t.Error("dispatch bool not set")
	}
	// Tuple starts with the handler word.
	if !bytes.Equal(body[64:96], common.LeftPadBytes(params.Handler.Bytes(), 32)) {
		t.Error("tuple does not start with handler")
	}
}

func TestRightPad(t *testing.T) {
	if got := rightPad([]byte{1, 2, 3}); len(got) != 32 {
		t.Errorf("padded length = %d, want 32", len(got))
	}
	exact := make([]byte, 64)
	if got := rightPad(exact); len(got) != 64 {
		t.Errorf("aligned input grew to %d", len(got))
	}
}
