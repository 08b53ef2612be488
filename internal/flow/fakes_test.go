package flow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
)

// memStore is an in-memory OrderStore with the same write-once checkpoint
// semantics as the postgres implementation.
type memStore struct {
	mu        sync.Mutex
	orders    map[int64]*domain.Order
	statusErr error
}

func newMemStore(orders ...*domain.Order) *memStore {
	s := &memStore{orders: make(map[int64]*domain.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *memStore) Create(_ context.Context, order *domain.Order) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.orders) + 1)
	order.ID = id
	s.orders[id] = order
	return id, nil
}

func (s *memStore) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) GetByOrderHash(_ context.Context, orderHash string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.OrderHash == orderHash {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) SetOrderHash(_ context.Context, id int64, orderHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.OrderHash != "" && o.OrderHash != orderHash {
		return domain.ErrCheckpointConflict
	}
	o.OrderHash = orderHash
	return nil
}

func (s *memStore) SetPolymarketOrderHash(_ context.Context, id int64, hash string) error {
	return s.setCheckpoint(id, hash, func(o *domain.Order) **string { return &o.PolymarketOrderHash })
}

func (s *memStore) SetTransactionHash(_ context.Context, id int64, txHash string) error {
	return s.setCheckpoint(id, txHash, func(o *domain.Order) **string { return &o.TransactionHash })
}

func (s *memStore) setCheckpoint(id int64, value string, field func(*domain.Order) **string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	slot := field(o)
	if *slot != nil && **slot != "" && **slot != value {
		return domain.ErrCheckpointConflict
	}
	*slot = &value
	return nil
}

func (s *memStore) UpdateStatus(_ context.Context, id int64, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return s.statusErr
	}
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.ValidTransition(o.Status, status) {
		return domain.ErrInvalidTransition
	}
	o.Status = status
	return nil
}

func (s *memStore) ListByOwner(_ context.Context, owner string, _ domain.ListOpts) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if o.Owner == owner {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ListByStatus(_ context.Context, status domain.OrderStatus, _ domain.ListOpts) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if o.Status == status {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) status(id int64) domain.OrderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id].Status
}

type fakeOffchain struct {
	createHash string
	createErr  error
	cancelErr  error
	creates    int
	cancels    int
}

func (f *fakeOffchain) CreateLimitOrder(context.Context, *domain.Order) (string, error) {
	f.creates++
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.createHash, nil
}

func (f *fakeOffchain) CancelOrder(context.Context, string) error {
	f.cancels++
	return f.cancelErr
}

// fakePlanner replays a queue of create plans; the last one repeats.
type fakePlanner struct {
	createPlans []domain.BatchPlan
	createHash  string
	createErr   error
	createCalls int

	removePlan domain.BatchPlan
	removeErr  error
}

func (f *fakePlanner) PlanCreate(context.Context, *domain.Order) (domain.BatchPlan, string, error) {
	f.createCalls++
	if f.createErr != nil {
		return domain.BatchPlan{}, "", f.createErr
	}
	idx := f.createCalls - 1
	if idx >= len(f.createPlans) {
		idx = len(f.createPlans) - 1
	}
	return f.createPlans[idx], f.createHash, nil
}

func (f *fakePlanner) PlanRemove(context.Context, *domain.Order) (domain.BatchPlan, error) {
	return f.removePlan, f.removeErr
}

type fakeExec struct {
	hash  common.Hash
	err   error
	calls int
}

func (f *fakeExec) Execute(context.Context, common.Address, domain.BatchPlan) (common.Hash, error) {
	f.calls++
	if f.err != nil {
		return common.Hash{}, f.err
	}
	return f.hash, nil
}

type fakeConfirm struct {
	err error
}

func (f *fakeConfirm) Wait(context.Context, common.Hash, time.Duration) (*types.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

type fakeVerifier struct {
	err   error
	calls int
}

func (f *fakeVerifier) Verify(_ context.Context, _, _ string, _, _ int64, _, _ string) error {
	f.calls++
	return f.err
}

// stepRecorder captures the step sequence a flow emitted.
type stepRecorder struct {
	mu    sync.Mutex
	steps []Step
}

func (r *stepRecorder) Step(_ context.Context, _ int64, step Step) {
	r.mu.Lock()
	r.steps = append(r.steps, step)
	r.mu.Unlock()
}

func (r *stepRecorder) Progress(context.Context, int64, domain.TxProgress) {}

func (r *stepRecorder) saw(step Step) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.steps {
		if s == step {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
