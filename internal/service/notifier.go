package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/flow"
)

// LifecycleStream is the durable Redis stream carrying every step and
// progress event across all orders. The WebSocket hub replays it to clients
// that connect after a flow already started.
const LifecycleStream = "orders:lifecycle"

// ProgressChannel returns the pub/sub channel carrying live events for one
// order. WebSocket subscribers listen here.
func ProgressChannel(orderID int64) string {
	return "order:" + strconv.FormatInt(orderID, 10) + ":progress"
}

// BusNotifier bridges flow progress onto the signal bus: pub/sub for clients
// watching live, a stream for anyone replaying the lifecycle afterwards.
type BusNotifier struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewBusNotifier creates a BusNotifier publishing over the given bus.
func NewBusNotifier(bus domain.SignalBus, logger *slog.Logger) *BusNotifier {
	return &BusNotifier{
		bus:    bus,
		logger: logger.With(slog.String("component", "service.notifier")),
	}
}

type stepEvent struct {
	OrderID int64     `json:"orderId"`
	Event   string    `json:"event"`
	Step    flow.Step `json:"step"`
}

type progressEvent struct {
	OrderID  int64             `json:"orderId"`
	Event    string            `json:"event"`
	Progress domain.TxProgress `json:"progress"`
}

// Step publishes a state-machine transition. Delivery is best effort; a bus
// outage never fails the flow.
func (n *BusNotifier) Step(ctx context.Context, orderID int64, step flow.Step) {
	n.emit(ctx, orderID, stepEvent{OrderID: orderID, Event: "step", Step: step})
}

// Progress publishes per-transaction progress within a batch.
func (n *BusNotifier) Progress(ctx context.Context, orderID int64, progress domain.TxProgress) {
	n.emit(ctx, orderID, progressEvent{OrderID: orderID, Event: "progress", Progress: progress})
}

func (n *BusNotifier) emit(ctx context.Context, orderID int64, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("event marshal failed", slog.String("error", err.Error()))
		return
	}

	if err := n.bus.Publish(ctx, ProgressChannel(orderID), payload); err != nil {
		n.logger.Warn("event publish failed",
			slog.Int64("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
	if err := n.bus.StreamAppend(ctx, LifecycleStream, payload); err != nil {
		n.logger.Warn("event stream append failed",
			slog.Int64("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}

// Compile-time interface check.
var _ flow.Notifier = (*BusNotifier)(nil)
