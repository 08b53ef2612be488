package polymarket

import (
	"encoding/json"
	"strings"
)

// flexBool unmarshals from JSON bool or string ("true"/"false"); the CLOB API
// is inconsistent about which it sends.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	TransactID  string `json:"transactID,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// APIOrder is the subset of the CLOB order representation the service reads
// back when reconciling.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AssetID      string `json:"asset_id"`
	Owner        string `json:"owner"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	CreatedAt    string `json:"created_at"`
}

// OrderState is the normalized view of an off-chain order's live status.
type OrderState struct {
	ID          string
	Status      string
	SizeMatched string
}

// Filled reports whether the off-chain order has been fully matched.
func (s OrderState) Filled() bool {
	return s.Status == "matched" || s.Status == "filled"
}

// Canceled reports whether the off-chain order is no longer on the book.
func (s OrderState) Canceled() bool {
	return s.Status == "cancelled" || s.Status == "canceled"
}

// toOrderState normalizes an APIOrder.
func (a *APIOrder) toOrderState() OrderState {
	return OrderState{
		ID:          a.ID,
		Status:      strings.ToLower(a.Status),
		SizeMatched: a.SizeMatched,
	}
}
