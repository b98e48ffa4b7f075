package market

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// ProdBaseURL is the live exchange.
	ProdBaseURL = "https://api.elections.kalshi.com/trade-api/v2"
	// DemoBaseURL is the sandbox; selected by the operator's demo flag.
	DemoBaseURL = "https://demo-api.kalshi.co/trade-api/v2"

	signPathPrefix = "/trade-api/v2"
)

var ErrNotRSAKey = errors.New("kalshi: credential is not an RSA private key")

// ParsePrivateKey decodes a PEM-encoded RSA private key in PKCS1 or PKCS8
// form, the two shapes the exchange issues.
func ParsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("kalshi: no PEM block in private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrNotRSAKey
		}
		return rsaKey, nil
	}
	return nil, fmt.Errorf("kalshi: unsupported PEM type %q", block.Type)
}

// KalshiClient implements Gateway against the Kalshi REST API. Requests
// are signed RSA-PSS over timestamp+method+path.
type KalshiClient struct {
	http       *resty.Client
	apiKeyID   string
	privateKey *rsa.PrivateKey
	log        zerolog.Logger
}

// NewKalshiClient builds a gateway. demo selects the sandbox base URL.
func NewKalshiClient(apiKeyID string, privateKey *rsa.PrivateKey, demo bool, log zerolog.Logger) *KalshiClient {
	base := ProdBaseURL
	if demo {
		base = DemoBaseURL
	}
	return &KalshiClient{
		http: resty.New().
			SetBaseURL(base).
			SetTimeout(30 * time.Second).
			SetHeader("Content-Type", "application/json"),
		apiKeyID:   apiKeyID,
		privateKey: privateKey,
		log:        log.With().Str("component", "kalshi").Logger(),
	}
}

func (c *KalshiClient) sign(method, path string) (timestamp, signature string, err error) {
	timestamp = strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := timestamp + method + signPathPrefix + path
	hashed := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hashed[:], nil)
	if err != nil {
		return "", "", fmt.Errorf("kalshi: sign request: %w", err)
	}
	return timestamp, base64.StdEncoding.EncodeToString(sig), nil
}

// request performs a signed call. The signature covers the path without
// query parameters, matching the exchange's verification.
func (c *KalshiClient) request(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	ts, sig, err := c.sign(method, path)
	if err != nil {
		return err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("KALSHI-ACCESS-KEY", c.apiKeyID).
		SetHeader("KALSHI-ACCESS-TIMESTAMP", ts).
		SetHeader("KALSHI-ACCESS-SIGNATURE", sig).
		SetQueryParams(query)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("kalshi: %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("kalshi: %s %s: status %d: %s", method, path, resp.StatusCode(), resp.String())
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("kalshi: decode %s response: %w", path, err)
		}
	}
	return nil
}

func (c *KalshiClient) GetEventMarkets(ctx context.Context, eventTicker string) ([]Market, error) {
	var resp struct {
		Markets []Market `json:"markets"`
	}
	err := c.request(ctx, "GET", "/events/"+eventTicker, map[string]string{
		"with_nested_markets": "true",
	}, nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Markets, nil
}

func (c *KalshiClient) GetMarket(ctx context.Context, ticker string) (*Market, error) {
	var resp struct {
		Market Market `json:"market"`
	}
	if err := c.request(ctx, "GET", "/markets/"+ticker, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Market, nil
}

func (c *KalshiClient) GetOrders(ctx context.Context, status string) ([]Order, error) {
	query := map[string]string{}
	if status != "" {
		query["status"] = status
	}
	var resp struct {
		Orders []struct {
			OrderID       string `json:"order_id"`
			Ticker        string `json:"ticker"`
			Side          Side   `json:"side"`
			Status        string `json:"status"`
			YesPrice      int    `json:"yes_price"`
			NoPrice       int    `json:"no_price"`
			Count         int    `json:"count"`
			ClientOrderID string `json:"client_order_id"`
		} `json:"orders"`
	}
	if err := c.request(ctx, "GET", "/portfolio/orders", query, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		price := o.YesPrice
		if o.Side == SideNo {
			price = o.NoPrice
		}
		out = append(out, Order{
			OrderID: o.OrderID, Ticker: o.Ticker, Side: o.Side,
			Status: o.Status, PriceCents: price, Count: o.Count,
			ClientOrderID: o.ClientOrderID,
		})
	}
	return out, nil
}

func (c *KalshiClient) PlaceOrder(ctx context.Context, ticker string, side Side, priceCents, qty int) (*Order, error) {
	if priceCents < 1 || priceCents > 99 {
		return nil, fmt.Errorf("kalshi: price %d¢ outside [1,99]", priceCents)
	}
	if qty < 1 {
		return nil, fmt.Errorf("kalshi: quantity %d below 1", qty)
	}

	body := map[string]any{
		"ticker":          ticker,
		"action":          "buy",
		"side":            string(side),
		"type":            "limit",
		"count":           qty,
		"client_order_id": uuid.NewString(),
	}
	if side == SideYes {
		body["yes_price"] = priceCents
	} else {
		body["no_price"] = priceCents
	}

	var resp struct {
		Order struct {
			OrderID       string `json:"order_id"`
			Ticker        string `json:"ticker"`
			Side          Side   `json:"side"`
			Status        string `json:"status"`
			Count         int    `json:"count"`
			ClientOrderID string `json:"client_order_id"`
		} `json:"order"`
	}
	if err := c.request(ctx, "POST", "/portfolio/orders", nil, body, &resp); err != nil {
		return nil, err
	}

	c.log.Info().Str("ticker", ticker).Str("side", string(side)).
		Int("price", priceCents).Int("qty", qty).
		Str("order_id", resp.Order.OrderID).Msg("order placed")

	return &Order{
		OrderID: resp.Order.OrderID, Ticker: resp.Order.Ticker,
		Side: resp.Order.Side, Status: resp.Order.Status,
		PriceCents: priceCents, Count: resp.Order.Count,
		ClientOrderID: resp.Order.ClientOrderID,
	}, nil
}

func (c *KalshiClient) GetBalance(ctx context.Context) (int64, error) {
	var resp struct {
		Balance int64 `json:"balance"`
	}
	if err := c.request(ctx, "GET", "/portfolio/balance", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (c *KalshiClient) Close() error { return nil }
