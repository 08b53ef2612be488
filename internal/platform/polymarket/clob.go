// Package polymarket is the REST client for the Polymarket CLOB (Central
// Limit Order Book) API: the off-chain leg of every conditional swap.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/crypto"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
)

// zeroAddress is the open-taker sentinel for CLOB orders.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// ClobClient places, cancels, and inspects CLOB limit orders on behalf of the
// service's session key.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
}

// NewClobClient creates a CLOB REST client.
//
// baseURL is the API root, e.g. "https://clob.polymarket.com". hmac may be
// nil, in which case DeriveAPIKey must be called before any authenticated
// request.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
	}
}

// CreateLimitOrder places the off-chain leg of a conditional swap: a limit
// order buying the selected outcome token at the activation price. It returns
// the CLOB order hash, which becomes the swap's first checkpoint.
func (c *ClobClient) CreateLimitOrder(ctx context.Context, order *domain.Order) (string, error) {
	payload, err := c.buildPayload(order)
	if err != nil {
		return "", err
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return "", fmt.Errorf("polymarket/clob: sign order: %w", err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          sideName(payload.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     order.Owner,
		"orderType": "GTC",
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return "", fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("polymarket/clob: order rejected: %s", result.ErrorMsg)
	}

	return result.OrderID, nil
}

// CancelOrder removes a resting CLOB order by its hash.
func (c *ClobClient) CancelOrder(ctx context.Context, orderHash string) error {
	body := map[string]any{
		"orderID": orderHash,
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderHash, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}

	return nil
}

// GetOrder fetches the current state of an off-chain order. Returns
// domain.ErrNotFound when the CLOB no longer knows the hash.
func (c *ClobClient) GetOrder(ctx context.Context, orderHash string) (OrderState, error) {
	path := fmt.Sprintf("/order/%s", orderHash)

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return OrderState{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderHash, err)
	}

	var apiOrder APIOrder
	if err := json.Unmarshal(respBody, &apiOrder); err != nil {
		return OrderState{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}

	return apiOrder.toOrderState(), nil
}

// GetMidpoint returns the current midpoint price for an outcome token as a
// decimal string ("0.47"). Unauthenticated endpoint.
func (c *ClobClient) GetMidpoint(ctx context.Context, tokenID string) (string, error) {
	endpoint := c.baseURL + "/midpoint?token_id=" + url.QueryEscape(tokenID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("polymarket/clob: create midpoint request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("polymarket/clob: midpoint request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("polymarket/clob: read midpoint response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return "", fmt.Errorf("polymarket/clob: midpoint: %w", err)
	}

	var result struct {
		Mid string `json:"mid"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("polymarket/clob: decode midpoint: %w", err)
	}

	return result.Mid, nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint: POLY_ADDRESS, POLY_SIGNATURE, POLY_TIMESTAMP,
// POLY_NONCE. On success it populates the client's hmacAuth field.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildPayload translates the swap intent into a CLOB order: buy the selected
// outcome token at the activation price (betPercentage cents on the dollar),
// spending the swap's sell amount.
func (c *ClobClient) buildPayload(order *domain.Order) (crypto.OrderPayload, error) {
	if order.OutcomeSelected == "" {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: order %d has no outcome token", order.ID)
	}
	if order.BetPercentage <= 0 || order.BetPercentage > 100 {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: order %d has invalid bet percentage %d", order.ID, order.BetPercentage)
	}

	// takerAmount = makerAmount / price, with price = betPercentage / 100.
	makerAmount := new(big.Int).Set(order.SellAmount)
	takerAmount := new(big.Int).Mul(makerAmount, big.NewInt(100))
	takerAmount.Div(takerAmount, big.NewInt(int64(order.BetPercentage)))

	return crypto.OrderPayload{
		Salt:          strconv.FormatInt(time.Now().UnixNano(), 10),
		Maker:         order.Owner,
		Signer:        c.signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       order.OutcomeSelected,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    strconv.FormatInt(order.DeadlineTimestamp, 10),
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0, // BUY
		SignatureType: 2, // POLY_GNOSIS_SAFE
	}, nil
}

func sideName(side int) string {
	if side == 1 {
		return "SELL"
	}
	return "BUY"
}

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		headers := c.hmacAuth.L2Headers(address, method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
