package market

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestBuildEventTicker(t *testing.T) {
	date := time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC)
	ticker, err := BuildEventTicker("NYC", date)
	require.NoError(t, err)
	assert.Equal(t, "KXHIGHNY-26FEB18", ticker)

	ticker, err = BuildEventTicker("AUS", time.Date(2026, 12, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "KXHIGHAUS-26DEC03", ticker)

	_, err = BuildEventTicker("LAX", date)
	assert.Error(t, err)
}

func TestBracketFromMarketLabels(t *testing.T) {
	cases := []struct {
		name  string
		m     Market
		label string
	}{
		{"bottom edge", Market{Ticker: "T1", CapStrike: f(47.99)}, "Below 48F"},
		{"top edge", Market{Ticker: "T2", FloorStrike: f(80)}, "80F or above"},
		{"middle", Market{Ticker: "T3", FloorStrike: f(55), CapStrike: f(56.99)}, "55-57F"},
		{"two degree", Market{Ticker: "T4", FloorStrike: f(50), CapStrike: f(51.99)}, "50-52F"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := BracketFromMarket(tc.m)
			require.NoError(t, err)
			assert.Equal(t, tc.label, b.Label)
			assert.Equal(t, tc.m.Ticker, b.Ticker)
		})
	}

	_, err := BracketFromMarket(Market{Ticker: "bad"})
	assert.Error(t, err)
}

func TestBracketContains(t *testing.T) {
	bottom := Bracket{UpperF: f(47.99)}
	assert.True(t, bottom.Contains(40))
	assert.True(t, bottom.Contains(-10))
	assert.False(t, bottom.Contains(48.5))

	top := Bracket{LowerF: f(80)}
	assert.True(t, top.Contains(80))
	assert.True(t, top.Contains(101))
	assert.False(t, top.Contains(79.9))

	mid := Bracket{LowerF: f(55), UpperF: f(56.99)}
	assert.True(t, mid.Contains(55))
	assert.True(t, mid.Contains(55.7))
	assert.True(t, mid.Contains(56.99))
	assert.False(t, mid.Contains(57))
	assert.False(t, mid.Contains(54.9))
}

func TestParsePrivateKeyFormats(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pkcs1 := pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	parsed, err := ParsePrivateKey(pkcs1)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	parsed, err = ParsePrivateKey(pkcs8)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	_, err = ParsePrivateKey([]byte("not pem"))
	assert.Error(t, err)
}

func testKalshi(t *testing.T, handler http.Handler) (*KalshiClient, func()) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	c := NewKalshiClient("key-id", key, false, zerolog.Nop())
	c.http.SetBaseURL(srv.URL)
	return c, srv.Close
}

func TestKalshiGetEventMarkets(t *testing.T) {
	c, closeFn := testKalshi(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/KXHIGHNY-26FEB18", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("KALSHI-ACCESS-KEY"))
		assert.NotEmpty(t, r.Header.Get("KALSHI-ACCESS-TIMESTAMP"))
		assert.NotEmpty(t, r.Header.Get("KALSHI-ACCESS-SIGNATURE"))
		w.Write([]byte(`{"markets":[
			{"ticker":"KXHIGHNY-26FEB18-B55","yes_bid":21,"yes_ask":23,"floor_strike":55,"cap_strike":56.99},
			{"ticker":"KXHIGHNY-26FEB18-T80","yes_bid":1,"yes_ask":2,"floor_strike":80}
		]}`))
	}))
	defer closeFn()

	markets, err := c.GetEventMarkets(context.Background(), "KXHIGHNY-26FEB18")
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, 23, markets[0].YesAsk)
	require.NotNil(t, markets[0].FloorStrike)
	assert.Equal(t, 55.0, *markets[0].FloorStrike)
	assert.Nil(t, markets[1].CapStrike)
}

func TestKalshiPlaceOrderValidation(t *testing.T) {
	c, closeFn := testKalshi(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for invalid input")
	}))
	defer closeFn()

	_, err := c.PlaceOrder(context.Background(), "T", SideYes, 0, 1)
	assert.Error(t, err)
	_, err = c.PlaceOrder(context.Background(), "T", SideYes, 100, 1)
	assert.Error(t, err)
	_, err = c.PlaceOrder(context.Background(), "T", SideYes, 50, 0)
	assert.Error(t, err)
}

func TestKalshiPlaceOrder(t *testing.T) {
	c, closeFn := testKalshi(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/portfolio/orders", r.URL.Path)
		w.Write([]byte(`{"order":{"order_id":"ord-1","ticker":"T","side":"yes","status":"executed","count":2,"client_order_id":"c1"}}`))
	}))
	defer closeFn()

	order, err := c.PlaceOrder(context.Background(), "T", SideYes, 22, 2)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", order.OrderID)
	assert.Equal(t, 22, order.PriceCents)
	assert.Equal(t, 2, order.Count)
}

func TestKalshiErrorStatus(t *testing.T) {
	c, closeFn := testKalshi(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer closeFn()

	_, err := c.GetBalance(context.Background())
	assert.Error(t, err)
}
