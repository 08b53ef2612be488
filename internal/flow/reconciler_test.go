package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/platform/polymarket"
)

// fakeLocks hands out locks unless a key is marked held.
type fakeLocks struct {
	held     map[string]bool
	acquired []string
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.acquired = append(f.acquired, key)
	return func() {}, nil
}

type fakeStateReader struct {
	states    map[string]polymarket.OrderState
	err       error
	cancelErr error
	calls     int
	cancels   int
}

func (f *fakeStateReader) GetOrder(_ context.Context, orderHash string) (polymarket.OrderState, error) {
	f.calls++
	if f.err != nil {
		return polymarket.OrderState{}, f.err
	}
	return f.states[orderHash], nil
}

func (f *fakeStateReader) CancelOrder(context.Context, string) error {
	f.cancels++
	return f.cancelErr
}

// fakeReceipts serves canned receipts by transaction hash.
type fakeReceipts struct {
	receipts map[common.Hash]*types.Receipt
	calls    int
}

func (f *fakeReceipts) Receipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.calls++
	if rec, ok := f.receipts[hash]; ok {
		return rec, nil
	}
	return nil, ethereum.NotFound
}

func minedReceipts(txHash string, status uint64) *fakeReceipts {
	return &fakeReceipts{receipts: map[common.Hash]*types.Receipt{
		common.HexToHash(txHash): {Status: status},
	}}
}

type fakeAudit struct {
	events []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func liveWithLeg(id int64, pmHash string) *domain.Order {
	return &domain.Order{
		ID:                  id,
		Owner:               "0x1000000000000000000000000000000000000001",
		OrderHash:           "0xorderhash",
		PolymarketOrderHash: &pmHash,
		Status:              domain.OrderStatusLive,
	}
}

func TestReconcilerSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("fill detected off chain", func(t *testing.T) {
		store := newMemStore(liveWithLeg(1, "0xpm1"))
		reader := &fakeStateReader{states: map[string]polymarket.OrderState{
			"0xpm1": {ID: "0xpm1", Status: "matched", SizeMatched: "100"},
		}}
		audit := &fakeAudit{}
		r := NewReconciler(store, reader, &fakeReceipts{}, &fakeLocks{}, audit, testLogger())

		r.sweep(ctx)

		if store.status(1) != domain.OrderStatusFilled {
			t.Errorf("status = %s, want filled", store.status(1))
		}
		if len(audit.events) != 1 || audit.events[0] != "order.filled" {
			t.Errorf("audit events = %v", audit.events)
		}
	})

	t.Run("external cancellation detected", func(t *testing.T) {
		store := newMemStore(liveWithLeg(1, "0xpm1"))
		reader := &fakeStateReader{states: map[string]polymarket.OrderState{
			"0xpm1": {ID: "0xpm1", Status: "cancelled"},
		}}
		r := NewReconciler(store, reader, &fakeReceipts{}, &fakeLocks{}, nil, testLogger())

		r.sweep(ctx)

		if store.status(1) != domain.OrderStatusCanceled {
			t.Errorf("status = %s, want canceled", store.status(1))
		}
	})

	t.Run("open order untouched", func(t *testing.T) {
		store := newMemStore(liveWithLeg(1, "0xpm1"))
		reader := &fakeStateReader{states: map[string]polymarket.OrderState{
			"0xpm1": {ID: "0xpm1", Status: "live"},
		}}
		r := NewReconciler(store, reader, &fakeReceipts{}, &fakeLocks{}, nil, testLogger())

		r.sweep(ctx)

		if store.status(1) != domain.OrderStatusLive {
			t.Errorf("status = %s, want live", store.status(1))
		}
	})

	t.Run("held lock skips the order", func(t *testing.T) {
		store := newMemStore(liveWithLeg(1, "0xpm1"))
		reader := &fakeStateReader{states: map[string]polymarket.OrderState{
			"0xpm1": {ID: "0xpm1", Status: "matched"},
		}}
		locks := &fakeLocks{held: map[string]bool{"flow:1": true}}
		r := NewReconciler(store, reader, &fakeReceipts{}, locks, nil, testLogger())

		r.sweep(ctx)

		if reader.calls != 0 {
			t.Error("clob queried while a flow held the lock")
		}
		if store.status(1) != domain.OrderStatusLive {
			t.Errorf("status = %s, want live", store.status(1))
		}
	})

	t.Run("order without offchain leg skipped", func(t *testing.T) {
		order := liveWithLeg(1, "")
		order.PolymarketOrderHash = nil
		store := newMemStore(order)
		reader := &fakeStateReader{}
		r := NewReconciler(store, reader, &fakeReceipts{}, &fakeLocks{}, nil, testLogger())

		r.sweep(ctx)

		if reader.calls != 0 {
			t.Error("clob queried for an order with no off-chain leg")
		}
	})

	t.Run("clob error leaves state alone", func(t *testing.T) {
		store := newMemStore(liveWithLeg(1, "0xpm1"))
		reader := &fakeStateReader{err: errors.New("clob unavailable")}
		r := NewReconciler(store, reader, &fakeReceipts{}, &fakeLocks{}, nil, testLogger())

		r.sweep(ctx)

		if store.status(1) != domain.OrderStatusLive {
			t.Errorf("status = %s, want live", store.status(1))
		}
	})

	t.Run("reverted transaction cancels the order", func(t *testing.T) {
		order := liveWithLeg(1, "0xpm1")
		tx := "0xdeadtx"
		order.TransactionHash = &tx
		store := newMemStore(order)
		reader := &fakeStateReader{states: map[string]polymarket.OrderState{
			"0xpm1": {ID: "0xpm1", Status: "live"},
		}}
		audit := &fakeAudit{}
		r := NewReconciler(store, reader, minedReceipts(tx, types.ReceiptStatusFailed), &fakeLocks{}, audit, testLogger())

		r.sweep(ctx)

		if store.status(1) != domain.OrderStatusCanceled {
			t.Errorf("status = %s, want canceled", store.status(1))
		}
		if reader.cancels != 1 {
			t.Errorf("clob cancels = %d, want 1", reader.cancels)
		}
		if len(audit.events) != 1 || audit.events[0] != "order.transaction_reverted" {
			t.Errorf("audit events = %v", audit.events)
		}
		if reader.calls != 0 {
			t.Error("clob state read for an order already closed out")
		}
	})

	t.Run("successful receipt falls through to clob check", func(t *testing.T) {
		order := liveWithLeg(1, "0xpm1")
		tx := "0xgoodtx"
		order.TransactionHash = &tx
		store := newMemStore(order)
		reader := &fakeStateReader{states: map[string]polymarket.OrderState{
			"0xpm1": {ID: "0xpm1", Status: "matched", SizeMatched: "100"},
		}}
		r := NewReconciler(store, reader, minedReceipts(tx, types.ReceiptStatusSuccessful), &fakeLocks{}, nil, testLogger())

		r.sweep(ctx)

		if store.status(1) != domain.OrderStatusFilled {
			t.Errorf("status = %s, want filled", store.status(1))
		}
		if reader.cancels != 0 {
			t.Errorf("clob cancels = %d, want 0", reader.cancels)
		}
	})

	t.Run("pending transaction leaves order alone", func(t *testing.T) {
		order := liveWithLeg(1, "0xpm1")
		tx := "0xpendingtx"
		order.TransactionHash = &tx
		store := newMemStore(order)
		reader := &fakeStateReader{states: map[string]polymarket.OrderState{
			"0xpm1": {ID: "0xpm1", Status: "live"},
		}}
		receipts := &fakeReceipts{}
		r := NewReconciler(store, reader, receipts, &fakeLocks{}, nil, testLogger())

		r.sweep(ctx)

		if receipts.calls != 1 {
			t.Errorf("receipt reads = %d, want 1", receipts.calls)
		}
		if store.status(1) != domain.OrderStatusLive {
			t.Errorf("status = %s, want live", store.status(1))
		}
	})

	t.Run("reverted transaction tolerates a missing clob order", func(t *testing.T) {
		order := liveWithLeg(1, "0xpm1")
		tx := "0xdeadtx"
		order.TransactionHash = &tx
		store := newMemStore(order)
		reader := &fakeStateReader{cancelErr: domain.ErrNotFound}
		r := NewReconciler(store, reader, minedReceipts(tx, types.ReceiptStatusFailed), &fakeLocks{}, nil, testLogger())

		r.sweep(ctx)

		if store.status(1) != domain.OrderStatusCanceled {
			t.Errorf("status = %s, want canceled", store.status(1))
		}
	})

	t.Run("flows and reconciler share lock keys", func(t *testing.T) {
		store := newMemStore(liveWithLeg(7, "0xpm7"))
		reader := &fakeStateReader{states: map[string]polymarket.OrderState{
			"0xpm7": {ID: "0xpm7", Status: "live"},
		}}
		locks := &fakeLocks{}
		r := NewReconciler(store, reader, &fakeReceipts{}, locks, nil, testLogger())

		r.sweep(ctx)

		if len(locks.acquired) != 1 || locks.acquired[0] != "flow:7" {
			t.Errorf("acquired = %v, want [flow:7]", locks.acquired)
		}
	})
}
