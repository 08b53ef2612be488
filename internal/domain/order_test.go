package domain

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusDraft, OrderStatusLive, true},
		{OrderStatusDraft, OrderStatusCanceled, true},
		{OrderStatusDraft, OrderStatusFilled, false},
		{OrderStatusDraft, OrderStatusDraft, false},
		{OrderStatusLive, OrderStatusFilled, true},
		{OrderStatusLive, OrderStatusCanceled, true},
		{OrderStatusLive, OrderStatusDraft, false},
		{OrderStatusLive, OrderStatusLive, false},
		{OrderStatusFilled, OrderStatusCanceled, false},
		{OrderStatusFilled, OrderStatusLive, false},
		{OrderStatusCanceled, OrderStatusLive, false},
		{OrderStatusCanceled, OrderStatusFilled, false},
	}

	for _, c := range cases {
		if got := ValidTransition(c.from, c.to); got != c.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestOrderCheckpointHelpers(t *testing.T) {
	empty := ""
	hash := "0xabc"

	t.Run("no legs", func(t *testing.T) {
		o := Order{}
		if o.HasOffchainLeg() || o.HasOnchainLeg() {
			t.Error("fresh order should have no legs")
		}
	})

	t.Run("empty string checkpoint does not count", func(t *testing.T) {
		o := Order{PolymarketOrderHash: &empty, TransactionHash: &empty}
		if o.HasOffchainLeg() || o.HasOnchainLeg() {
			t.Error("empty checkpoints should not count as set")
		}
	})

	t.Run("set checkpoints", func(t *testing.T) {
		o := Order{PolymarketOrderHash: &hash, TransactionHash: &hash}
		if !o.HasOffchainLeg() || !o.HasOnchainLeg() {
			t.Error("checkpoints should count as set")
		}
	})
}

func TestOrderTerminal(t *testing.T) {
	for _, c := range []struct {
		status OrderStatus
		want   bool
	}{
		{OrderStatusDraft, false},
		{OrderStatusLive, false},
		{OrderStatusFilled, true},
		{OrderStatusCanceled, true},
	} {
		if got := (Order{Status: c.status}).Terminal(); got != c.want {
			t.Errorf("Terminal(%s) = %v, want %v", c.status, got, c.want)
		}
	}
}
