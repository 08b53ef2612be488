package crypto

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
)

// fakeContractVerifier answers EIP-1271 checks with a canned response.
type fakeContractVerifier struct {
	valid bool
	err   error
	calls int
}

func (f *fakeContractVerifier) IsValidSignature(_ context.Context, _ common.Address, _ [32]byte, _ []byte) (bool, error) {
	f.calls++
	return f.valid, f.err
}

// signOwnership produces a wallet-style signature (v in {27,28}) over the
// ownership message with the test key.
func signOwnership(t *testing.T, action, orderHash string, chainID, timestamp int64) (string, string) {
	t.Helper()
	pk, err := ethcrypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)

	digest := personalSignHash([]byte(OwnershipMessage(action, orderHash, chainID, timestamp)))
	sig, err := ethcrypto.Sign(digest, pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), addr.Hex()
}

func fixedVerifier(chainID int64, contracts ContractVerifier, now time.Time) *Verifier {
	v := NewVerifier(chainID, contracts)
	v.now = func() time.Time { return now }
	return v
}

func TestVerify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	orderHash := "0xabc123"

	t.Run("eoa signature accepted", func(t *testing.T) {
		ts := now.Unix() - 10
		sig, addr := signOwnership(t, "cancel", orderHash, 137, ts)

		v := fixedVerifier(137, nil, now)
		if err := v.Verify(context.Background(), "cancel", orderHash, ts, 137, sig, addr); err != nil {
			t.Errorf("Verify: %v", err)
		}
	})

	t.Run("expired timestamp", func(t *testing.T) {
		ts := now.Unix() - 301
		sig, addr := signOwnership(t, "cancel", orderHash, 137, ts)

		v := fixedVerifier(137, nil, now)
		err := v.Verify(context.Background(), "cancel", orderHash, ts, 137, sig, addr)
		if domain.KindOf(err) != domain.KindInvalidSignature {
			t.Errorf("want invalid_signature, got %v", err)
		}
	})

	t.Run("timestamp just inside window", func(t *testing.T) {
		ts := now.Unix() - 299
		sig, addr := signOwnership(t, "cancel", orderHash, 137, ts)

		v := fixedVerifier(137, nil, now)
		if err := v.Verify(context.Background(), "cancel", orderHash, ts, 137, sig, addr); err != nil {
			t.Errorf("Verify: %v", err)
		}
	})

	t.Run("future timestamp", func(t *testing.T) {
		ts := now.Unix() + 61
		sig, addr := signOwnership(t, "cancel", orderHash, 137, ts)

		v := fixedVerifier(137, nil, now)
		if err := v.Verify(context.Background(), "cancel", orderHash, ts, 137, sig, addr); err == nil {
			t.Error("expected rejection for future timestamp")
		}
	})

	t.Run("wrong chain id", func(t *testing.T) {
		ts := now.Unix()
		sig, addr := signOwnership(t, "cancel", orderHash, 1, ts)

		v := fixedVerifier(137, nil, now)
		if err := v.Verify(context.Background(), "cancel", orderHash, ts, 1, sig, addr); err == nil {
			t.Error("expected rejection for wrong chain")
		}
	})

	t.Run("action binding", func(t *testing.T) {
		ts := now.Unix()
		sig, addr := signOwnership(t, "cancel", orderHash, 137, ts)

		// A cancel signature must not authorize a broadcast.
		v := fixedVerifier(137, nil, now)
		if err := v.Verify(context.Background(), "broadcast", orderHash, ts, 137, sig, addr); err == nil {
			t.Error("expected rejection when action differs")
		}
	})

	t.Run("malformed signature", func(t *testing.T) {
		v := fixedVerifier(137, nil, now)
		err := v.Verify(context.Background(), "cancel", orderHash, now.Unix(), 137, "0xzz", "0x1111111111111111111111111111111111111111")
		if domain.KindOf(err) != domain.KindInvalidSignature {
			t.Errorf("want invalid_signature, got %v", err)
		}
	})

	t.Run("contract wallet fallback", func(t *testing.T) {
		ts := now.Unix()
		sig, _ := signOwnership(t, "cancel", orderHash, 137, ts)

		// Expected address differs from the EOA signer, but the wallet
		// accepts via EIP-1271.
		contracts := &fakeContractVerifier{valid: true}
		v := fixedVerifier(137, contracts, now)
		safe := "0x2222222222222222222222222222222222222222"
		if err := v.Verify(context.Background(), "cancel", orderHash, ts, 137, sig, safe); err != nil {
			t.Errorf("Verify: %v", err)
		}
		if contracts.calls != 1 {
			t.Errorf("contract verifier calls = %d, want 1", contracts.calls)
		}
	})

	t.Run("contract wallet rejects", func(t *testing.T) {
		ts := now.Unix()
		sig, _ := signOwnership(t, "cancel", orderHash, 137, ts)

		contracts := &fakeContractVerifier{valid: false, err: errors.New("revert")}
		v := fixedVerifier(137, contracts, now)
		safe := "0x2222222222222222222222222222222222222222"
		err := v.Verify(context.Background(), "cancel", orderHash, ts, 137, sig, safe)
		if domain.KindOf(err) != domain.KindInvalidSignature {
			t.Errorf("want invalid_signature, got %v", err)
		}
	})
}

func TestOwnershipMessage(t *testing.T) {
	got := OwnershipMessage("cancel", "0xdeadbeef", 137, 1700000000)
	want := "PolySwap cancel\nOrder: 0xdeadbeef\nChain: 137\nTimestamp: 1700000000"
	if got != want {
		t.Errorf("OwnershipMessage = %q, want %q", got, want)
	}
}
