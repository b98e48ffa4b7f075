package stations

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetKnownCities(t *testing.T) {
	for _, code := range Codes() {
		s, err := Get(code)
		require.NoError(t, err)
		assert.Equal(t, code, s.City)
		assert.NotEmpty(t, s.Series)
		assert.NotEmpty(t, s.CLIOffice)
	}
}

func TestGetUnknownCity(t *testing.T) {
	_, err := Get("LAX")
	assert.Error(t, err)
}

func TestGetCaseInsensitive(t *testing.T) {
	s, err := Get("nyc")
	require.NoError(t, err)
	assert.Equal(t, "KXHIGHNY", s.Series)
}

func TestCToF(t *testing.T) {
	cases := []struct {
		c, f float64
	}{
		{0, 32.0},
		{100, 212.0},
		{-40, -40.0},
		{12.8, 55.0},
		{21.1, 70.0},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.f, CToF(tc.c), 0.05, "CToF(%v)", tc.c)
	}
}

func TestConversionRoundTrip(t *testing.T) {
	// Per-step rounding to one decimal allows up to 0.1 drift.
	for f := -20.0; f <= 120.0; f += 0.7 {
		back := CToF(FToC(f))
		assert.LessOrEqual(t, math.Abs(back-f), 0.1+1e-9, "round trip of %v", f)
	}
}

func TestKmhToMph(t *testing.T) {
	assert.InDelta(t, 6.2, KmhToMph(10), 0.05)
	assert.InDelta(t, 62.1, KmhToMph(100), 0.05)
}

func TestPaToHpa(t *testing.T) {
	assert.Equal(t, 1013.25, PaToHpa(101325))
}

func TestTradingDayIgnoresDST(t *testing.T) {
	nyc := MustGet("NYC")

	// 04:30 UTC in July is 23:30 EST the previous day even though local
	// wall-clock (EDT) has already rolled over.
	utc := time.Date(2026, 7, 15, 4, 30, 0, 0, time.UTC)
	day := nyc.TradingDay(utc)
	assert.Equal(t, time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC), day)

	// 05:30 UTC is 00:30 EST: new trading day.
	day = nyc.TradingDay(utc.Add(time.Hour))
	assert.Equal(t, time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC), day)
}

func TestLocalHour(t *testing.T) {
	chi := MustGet("CHI")
	// 12:00 UTC is 06:00 CST.
	assert.Equal(t, 6, chi.LocalHour(time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)))
}
