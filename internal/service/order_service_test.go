package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/flow"
)

type svcStore struct {
	orders  map[int64]*domain.Order
	nextID  int64
	created int
}

func newSvcStore(orders ...*domain.Order) *svcStore {
	s := &svcStore{orders: make(map[int64]*domain.Order), nextID: 100}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *svcStore) Create(_ context.Context, order *domain.Order) (int64, error) {
	s.nextID++
	s.created++
	order.ID = s.nextID
	s.orders[order.ID] = order
	return order.ID, nil
}

func (s *svcStore) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o, nil
}

func (s *svcStore) GetByOrderHash(context.Context, string) (*domain.Order, error) {
	return nil, domain.ErrNotFound
}

func (s *svcStore) SetOrderHash(context.Context, int64, string) error          { return nil }
func (s *svcStore) SetPolymarketOrderHash(context.Context, int64, string) error { return nil }
func (s *svcStore) SetTransactionHash(context.Context, int64, string) error     { return nil }
func (s *svcStore) UpdateStatus(context.Context, int64, domain.OrderStatus) error {
	return nil
}

func (s *svcStore) ListByOwner(_ context.Context, owner string, _ domain.ListOpts) ([]*domain.Order, error) {
	var out []*domain.Order
	for _, o := range s.orders {
		if o.Owner == owner {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *svcStore) ListByStatus(context.Context, domain.OrderStatus, domain.ListOpts) ([]*domain.Order, error) {
	return nil, nil
}

type svcAudit struct {
	events []string
}

func (a *svcAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *svcAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type svcLocks struct {
	held bool
}

func (l *svcLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type svcLimiter struct {
	allowed bool
	err     error
}

func (l *svcLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allowed, l.err
}

func (l *svcLimiter) Wait(context.Context, string) error { return nil }

type svcPlanner struct {
	plan domain.BatchPlan
	hash string
}

func (p *svcPlanner) PlanCreate(context.Context, *domain.Order) (domain.BatchPlan, string, error) {
	return p.plan, p.hash, nil
}

func (p *svcPlanner) PlanRemove(context.Context, *domain.Order) (domain.BatchPlan, error) {
	return domain.BatchPlan{}, nil
}

type svcBroadcaster struct {
	result flow.Result
	err    error
	runs   int
}

func (b *svcBroadcaster) Run(context.Context, int64) (flow.Result, error) {
	b.runs++
	return b.result, b.err
}

type svcCanceller struct {
	result flow.Result
	err    error
	runs   int
}

func (c *svcCanceller) Run(context.Context, flow.CancelRequest) (flow.Result, error) {
	c.runs++
	return c.result, c.err
}

type svcMidpoints struct {
	mid string
	err error
}

func (m *svcMidpoints) GetMidpoint(context.Context, string) (string, error) {
	return m.mid, m.err
}

type svcFixture struct {
	store       *svcStore
	audit       *svcAudit
	locks       *svcLocks
	limiter     *svcLimiter
	broadcaster *svcBroadcaster
	canceller   *svcCanceller
	svc         *SwapService
}

func newSvcFixture(orders ...*domain.Order) *svcFixture {
	f := &svcFixture{
		store:       newSvcStore(orders...),
		audit:       &svcAudit{},
		locks:       &svcLocks{},
		limiter:     &svcLimiter{allowed: true},
		broadcaster: &svcBroadcaster{result: flow.Result{Step: flow.StepSuccess}},
		canceller:   &svcCanceller{result: flow.Result{Step: flow.StepSuccess}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewSwapService(f.store, f.audit, f.locks, f.limiter,
		&svcPlanner{hash: "0xplanned"}, f.broadcaster, f.canceller,
		&svcMidpoints{mid: "0.42"}, logger)
	return f
}

func validRequest() CreateOrderRequest {
	return CreateOrderRequest{
		Owner:             "0x1000000000000000000000000000000000000001",
		SellToken:         "0x2000000000000000000000000000000000000002",
		BuyToken:          "0x3000000000000000000000000000000000000003",
		SellAmount:        "1000000",
		MinBuyAmount:      "900000",
		OutcomeSelected:   "7132104567925221259462638",
		BetPercentage:     60,
		StartTimestamp:    time.Now().Unix(),
		DeadlineTimestamp: time.Now().Add(24 * time.Hour).Unix(),
	}
}

func TestCreateDraft(t *testing.T) {
	ctx := context.Background()

	t.Run("valid request", func(t *testing.T) {
		f := newSvcFixture()
		order, err := f.svc.CreateDraft(ctx, validRequest())
		if err != nil {
			t.Fatalf("CreateDraft: %v", err)
		}
		if order.ID == 0 {
			t.Error("order id not assigned")
		}
		if order.Status != domain.OrderStatusDraft {
			t.Errorf("status = %s, want draft", order.Status)
		}
		if len(f.audit.events) != 1 || f.audit.events[0] != "order.created" {
			t.Errorf("audit events = %v", f.audit.events)
		}
	})

	t.Run("addresses normalized to checksum form", func(t *testing.T) {
		f := newSvcFixture()
		req := validRequest()
		req.Owner = "0x9008d19f58aabd9ed0d60971565aa8510560ab41"
		order, err := f.svc.CreateDraft(ctx, req)
		if err != nil {
			t.Fatalf("CreateDraft: %v", err)
		}
		if order.Owner != "0x9008D19f58AAbD9eD0D60971565AA8510560ab41" {
			t.Errorf("owner = %s, want checksummed", order.Owner)
		}
	})

	t.Run("invalid requests rejected", func(t *testing.T) {
		mutations := map[string]func(*CreateOrderRequest){
			"bad owner":              func(r *CreateOrderRequest) { r.Owner = "nope" },
			"bad sell token":         func(r *CreateOrderRequest) { r.SellToken = "0x12" },
			"zero sell amount":       func(r *CreateOrderRequest) { r.SellAmount = "0" },
			"negative min buy":       func(r *CreateOrderRequest) { r.MinBuyAmount = "-5" },
			"non-numeric amount":     func(r *CreateOrderRequest) { r.SellAmount = "1.5e6" },
			"deadline before start":  func(r *CreateOrderRequest) { r.DeadlineTimestamp = r.StartTimestamp },
			"deadline in the past":   func(r *CreateOrderRequest) { r.StartTimestamp = 1; r.DeadlineTimestamp = 2 },
			"missing outcome":        func(r *CreateOrderRequest) { r.OutcomeSelected = "" },
			"bet percentage too big": func(r *CreateOrderRequest) { r.BetPercentage = 101 },
			"bet percentage zero":    func(r *CreateOrderRequest) { r.BetPercentage = 0 },
		}
		for name, mutate := range mutations {
			t.Run(name, func(t *testing.T) {
				f := newSvcFixture()
				req := validRequest()
				mutate(&req)
				if _, err := f.svc.CreateDraft(ctx, req); err == nil {
					t.Error("expected validation error")
				}
				if f.store.created != 0 {
					t.Error("invalid order persisted")
				}
			})
		}
	})

}

func TestBroadcast(t *testing.T) {
	ctx := context.Background()
	draft := &domain.Order{ID: 1, Owner: "0x1000000000000000000000000000000000000001", Status: domain.OrderStatusDraft}

	t.Run("delegates under lock", func(t *testing.T) {
		f := newSvcFixture(draft)
		res, err := f.svc.Broadcast(ctx, 1)
		if err != nil {
			t.Fatalf("Broadcast: %v", err)
		}
		if res.Step != flow.StepSuccess {
			t.Errorf("step = %s", res.Step)
		}
		if f.broadcaster.runs != 1 {
			t.Errorf("runs = %d, want 1", f.broadcaster.runs)
		}
		if len(f.audit.events) != 1 || f.audit.events[0] != "order.broadcast" {
			t.Errorf("audit events = %v", f.audit.events)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newSvcFixture(draft)
		f.limiter.allowed = false
		if _, err := f.svc.Broadcast(ctx, 1); !errors.Is(err, domain.ErrRateLimited) {
			t.Errorf("err = %v, want rate limited", err)
		}
		if f.broadcaster.runs != 0 {
			t.Error("flow ran despite rate limit")
		}
	})

	t.Run("limiter outage does not block", func(t *testing.T) {
		f := newSvcFixture(draft)
		f.limiter.err = errors.New("redis down")
		if _, err := f.svc.Broadcast(ctx, 1); err != nil {
			t.Errorf("Broadcast: %v", err)
		}
	})

	t.Run("lock held", func(t *testing.T) {
		f := newSvcFixture(draft)
		f.locks.held = true
		if _, err := f.svc.Broadcast(ctx, 1); !errors.Is(err, domain.ErrLockHeld) {
			t.Errorf("err = %v, want lock held", err)
		}
		if f.broadcaster.runs != 0 {
			t.Error("flow ran despite held lock")
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newSvcFixture()
		if _, err := f.svc.Broadcast(ctx, 404); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("err = %v, want not found", err)
		}
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	live := &domain.Order{ID: 1, Owner: "0x1000000000000000000000000000000000000001", Status: domain.OrderStatusLive}

	t.Run("delegates under lock", func(t *testing.T) {
		f := newSvcFixture(live)
		res, err := f.svc.Cancel(ctx, flow.CancelRequest{OrderID: 1})
		if err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if res.Step != flow.StepSuccess || f.canceller.runs != 1 {
			t.Errorf("result = %+v, runs = %d", res, f.canceller.runs)
		}
	})

	t.Run("lock held", func(t *testing.T) {
		f := newSvcFixture(live)
		f.locks.held = true
		if _, err := f.svc.Cancel(ctx, flow.CancelRequest{OrderID: 1}); !errors.Is(err, domain.ErrLockHeld) {
			t.Errorf("err = %v, want lock held", err)
		}
	})
}

func TestPlan(t *testing.T) {
	ctx := context.Background()

	t.Run("includes midpoint for offchain orders", func(t *testing.T) {
		order := &domain.Order{ID: 1, OutcomeSelected: "123", Status: domain.OrderStatusDraft}
		f := newSvcFixture(order)

		view, err := f.svc.Plan(ctx, 1)
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		if view.OrderHash != "0xplanned" {
			t.Errorf("order hash = %q", view.OrderHash)
		}
		if view.OutcomeMidpoint != "0.42" {
			t.Errorf("midpoint = %q, want 0.42", view.OutcomeMidpoint)
		}
	})

	t.Run("omits midpoint without an outcome", func(t *testing.T) {
		order := &domain.Order{ID: 1, Status: domain.OrderStatusDraft}
		f := newSvcFixture(order)

		view, err := f.svc.Plan(ctx, 1)
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		if view.OutcomeMidpoint != "" {
			t.Errorf("midpoint = %q, want empty", view.OutcomeMidpoint)
		}
	})
}

func TestListByOwner(t *testing.T) {
	f := newSvcFixture()
	if _, err := f.svc.ListByOwner(context.Background(), "not-an-address", domain.ListOpts{}); err == nil {
		t.Error("expected rejection for a malformed owner")
	}
}
