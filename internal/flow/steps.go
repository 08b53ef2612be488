// Package flow drives the checkpointed state machines that take a
// conditional swap live and cancel it again. Every run is resumable: each
// step checks its checkpoint before doing work, so a crashed or retried run
// skips whatever already happened.
package flow

import (
	"context"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
)

// Step labels the state machine positions reported to clients.
type Step string

const (
	StepPolymarket  Step = "polymarket"
	StepTransaction Step = "transaction"
	StepSigned      Step = "signed"
	StepSuccess     Step = "success"
	StepError       Step = "error"

	// Cancellation-only steps.
	StepConfirm Step = "confirm"
	StepSigning Step = "signing"
)

// Result is the terminal outcome of a flow run. Kind is set only when the
// run ended at StepError; Warning flags a soft success such as a
// confirmation timeout.
type Result struct {
	Step                Step             `json:"step"`
	Kind                domain.ErrorKind `json:"kind,omitempty"`
	Warning             string           `json:"warning,omitempty"`
	OrderHash           string           `json:"orderHash,omitempty"`
	PolymarketOrderHash string           `json:"polymarketOrderHash,omitempty"`
	TransactionHash     string           `json:"transactionHash,omitempty"`
}

// Notifier receives live progress while a flow runs. Implementations must be
// non-blocking best-effort; flow correctness never depends on delivery.
type Notifier interface {
	Step(ctx context.Context, orderID int64, step Step)
	Progress(ctx context.Context, orderID int64, progress domain.TxProgress)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Step(context.Context, int64, Step)                 {}
func (NopNotifier) Progress(context.Context, int64, domain.TxProgress) {}
