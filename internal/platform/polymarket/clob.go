// Package polymarket contains the REST and WebSocket clients for the
// Polymarket CLOB and Gamma APIs.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/marketloop/spreadbot/internal/crypto"
	"github.com/marketloop/spreadbot/internal/domain"
	"github.com/marketloop/spreadbot/internal/quant"
)

// Signature types accepted by the CLOB.
const (
	SigTypeEOA       = 0
	SigTypePolyProxy = 1
)

// ClobConfig configures a ClobClient.
type ClobConfig struct {
	BaseURL string

	// Funder is the address that holds the collateral. For proxy wallets
	// this is the POLY_PROXY address and SignatureType is SigTypePolyProxy;
	// when empty the signer's own address is used with SigTypeEOA.
	Funder        string
	SignatureType int

	// RequestsPerSecond bounds the client-side request rate. Zero selects
	// a conservative default below the venue's published limits.
	RequestsPerSecond float64
}

// ClobClient is the REST client for the CLOB: order placement,
// cancellation, book queries, and reconciliation queries.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	funder     string
	sigType    int
}

// NewClobClient creates a CLOB REST client. hmac may be nil when the
// caller plans to call DeriveAPIKey before the first authenticated
// request.
func NewClobClient(cfg ClobConfig, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}
	funder := cfg.Funder
	sigType := cfg.SignatureType
	if funder == "" {
		funder = signer.Address().Hex()
		sigType = SigTypeEOA
	}
	return &ClobClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		signer:     signer,
		hmacAuth:   hmac,
		funder:     funder,
		sigType:    sigType,
	}
}

// PlaceOrderParams describes a GTC limit order to submit.
type PlaceOrderParams struct {
	Asset domain.AssetID
	Side  domain.Side
	Price float64
	Size  float64
}

// PlaceOrder quantizes, signs, and submits a GTC limit order. A venue
// rejection that reports the order would cross the book is returned as
// domain.ErrWouldCross; other rejections come back as an unsuccessful
// OrderResult with a nil error so the caller can decide how to react.
func (c *ClobClient) PlaceOrder(ctx context.Context, p PlaceOrderParams) (domain.OrderResult, error) {
	makerAmt, takerAmt, err := quant.Amounts(p.Side, p.Price, p.Size)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: place order: %w", err)
	}

	sideCode := 0
	if p.Side == domain.SideSell {
		sideCode = 1
	}

	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(rand.Int64N(1<<62), 10),
		Maker:         c.funder,
		Signer:        c.signer.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       string(p.Asset),
		MakerAmount:   strconv.FormatUint(makerAmt, 10),
		TakerAmount:   strconv.FormatUint(takerAmt, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideCode,
		SignatureType: c.sigType,
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
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
			"side":          string(p.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.apiKey(),
		"orderType": "GTC",
	}

	respBody, err := c.doAuthenticated(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult apiOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	result := domain.OrderResult{
		Success: apiResult.Success,
		OrderID: apiResult.OrderID,
		Message: apiResult.ErrorMsg,
	}
	if !result.Success && isCrossingError(apiResult.ErrorMsg) {
		return result, fmt.Errorf("polymarket/clob: %w: %s", domain.ErrWouldCross, apiResult.ErrorMsg)
	}
	return result, nil
}

// CancelOrder cancels a single order by id. An already-gone order is
// reported as domain.ErrNotFound.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	respBody, err := c.doAuthenticated(ctx, http.MethodDelete, "/order", map[string]any{"orderID": orderID})
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Canceled    []string          `json:"canceled"`
		NotCanceled map[string]string `json:"not_canceled"`
		Success     bool              `json:"success"`
		ErrorMsg    string            `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if reason, rejected := result.NotCanceled[orderID]; rejected {
		return fmt.Errorf("polymarket/clob: cancel %s: %w: %s", orderID, domain.ErrNotFound, reason)
	}
	if !result.Success && len(result.Canceled) == 0 {
		return fmt.Errorf("polymarket/clob: cancel %s failed: %s", orderID, result.ErrorMsg)
	}
	return nil
}

// CancelAll cancels every open order for the authenticated account.
// Used at shutdown and when reconciliation finds unknown orders.
func (c *ClobClient) CancelAll(ctx context.Context) error {
	respBody, err := c.doAuthenticated(ctx, http.MethodDelete, "/cancel-all", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel all: %w", err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel-all response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel-all failed: %s", result.ErrorMsg)
	}
	return nil
}

// OpenOrders returns the venue's view of the account's open orders.
func (c *ClobClient) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	respBody, err := c.doAuthenticated(ctx, http.MethodGet, "/orders", nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: open orders: %w", err)
	}

	var rows []apiOpenOrder
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode open orders: %w", err)
	}

	orders := make([]domain.OpenOrder, 0, len(rows))
	for i := range rows {
		orders = append(orders, rows[i].toDomain())
	}
	return orders, nil
}

// OrderBook fetches a full depth snapshot for one asset. Unauthenticated.
func (c *ClobClient) OrderBook(ctx context.Context, asset domain.AssetID) (domain.OrderbookSnapshot, error) {
	path := "/book?" + url.Values{"token_id": {string(asset)}}.Encode()
	respBody, err := c.doPublic(ctx, path)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: book %s: %w", asset, err)
	}

	var book apiBook
	if err := json.Unmarshal(respBody, &book); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	snap := book.toSnapshot()
	snap.Asset = asset
	return snap, nil
}

// TickSize returns the minimum price increment for an asset.
func (c *ClobClient) TickSize(ctx context.Context, asset domain.AssetID) (float64, error) {
	path := "/tick-size?" + url.Values{"token_id": {string(asset)}}.Encode()
	respBody, err := c.doPublic(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: tick size %s: %w", asset, err)
	}

	var resp struct {
		MinimumTickSize flexFloat `json:"minimum_tick_size"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode tick size: %w", err)
	}
	return float64(resp.MinimumTickSize), nil
}

// DeriveAPIKey runs the L1 auth flow: sign a ClobAuth message and trade
// it for HMAC credentials. Subsequent authenticated requests use the
// derived credentials.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	const nonce = int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w", err)
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

// Auth returns the client's HMAC credentials, nil before DeriveAPIKey
// when none were supplied up front.
func (c *ClobClient) Auth() *crypto.HMACAuth {
	return c.hmacAuth
}

// ---- Internal helpers ----

func (c *ClobClient) apiKey() string {
	if c.hmacAuth == nil {
		return ""
	}
	return c.hmacAuth.Key
}

// isCrossingError reports whether a rejection message indicates the
// order would have matched immediately instead of resting.
func isCrossingError(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "cross") || strings.Contains(m, "marketable")
}

// doAuthenticated sends an HMAC-signed request and returns the body.
func (c *ClobClient) doAuthenticated(ctx context.Context, method, path string, body any) ([]byte, error) {
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

	if c.hmacAuth == nil {
		return nil, fmt.Errorf("%w: no API credentials", domain.ErrUnauthorized)
	}
	for k, v := range c.hmacAuth.RESTHeaders(c.signer.Address().Hex(), method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	return c.send(ctx, req)
}

// doPublic sends an unauthenticated GET and returns the body.
func (c *ClobClient) doPublic(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.send(ctx, req)
}

func (c *ClobClient) send(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
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

// checkHTTPStatus maps non-2xx status codes to domain sentinel errors.
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
