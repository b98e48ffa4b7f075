package weather

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bozbot/internal/fetch"
	"bozbot/internal/stations"
)

const (
	nwsAPIBase   = "https://api.weather.gov"
	nwsProducts  = "https://forecast.weather.gov/product.php"
	openMeteoURL = "https://api.open-meteo.com/v1/forecast"

	openMeteoModelList = "gfs_seamless,ecmwf_ifs025,icon_seamless"
)

// gridRef is a resolved NWS gridpoint coordinate for a station.
type gridRef struct {
	Office string
	X      int
	Y      int
}

// Client fetches raw forecast products and returns them normalized. Grid
// coordinates are resolved once per city and cached for the process
// lifetime; NWS grid assignments do not move.
type Client struct {
	fetcher *fetch.Client
	log     zerolog.Logger

	mu    sync.Mutex
	grids map[string]gridRef
}

func NewClient(fetcher *fetch.Client, log zerolog.Logger) *Client {
	return &Client{
		fetcher: fetcher,
		log:     log.With().Str("component", "weather").Logger(),
		grids:   make(map[string]gridRef),
	}
}

type nwsPointsResponse struct {
	Properties struct {
		GridID string `json:"gridId"`
		GridX  int    `json:"gridX"`
		GridY  int    `json:"gridY"`
	} `json:"properties"`
}

// gridFor resolves the station's gridpoint via the points endpoint,
// memoizing the result.
func (c *Client) gridFor(ctx context.Context, station stations.Station) (gridRef, error) {
	c.mu.Lock()
	if ref, ok := c.grids[station.City]; ok {
		c.mu.Unlock()
		return ref, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s/points/%.4f,%.4f", nwsAPIBase, station.Lat, station.Lon)
	var resp nwsPointsResponse
	if err := c.fetcher.GetJSON(ctx, url, &resp); err != nil {
		return gridRef{}, fmt.Errorf("resolve grid for %s: %w", station.City, err)
	}
	if resp.Properties.GridID == "" {
		return gridRef{}, parseErrorf(SourceNWS, "points response for %s has no gridId", station.City)
	}

	ref := gridRef{Office: resp.Properties.GridID, X: resp.Properties.GridX, Y: resp.Properties.GridY}
	c.mu.Lock()
	c.grids[station.City] = ref
	c.mu.Unlock()

	c.log.Info().Str("city", station.City).
		Str("office", ref.Office).Int("x", ref.X).Int("y", ref.Y).
		Msg("resolved NWS gridpoint")
	return ref, nil
}

// FetchNWSForecast retrieves the NWS period forecast for the station and
// returns one normalized row per forecast date.
func (c *Client) FetchNWSForecast(ctx context.Context, station stations.Station) ([]WeatherData, error) {
	ref, err := c.gridFor(ctx, station)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/gridpoints/%s/%d,%d/forecast", nwsAPIBase, ref.Office, ref.X, ref.Y)
	body, err := c.fetcher.GetText(ctx, url)
	if err != nil {
		return nil, err
	}
	return NormalizeNWSForecast(station, []byte(body), time.Now().UTC())
}

// FetchNWSGrid retrieves the raw gridpoint data for the station, which
// carries the supplementary variables the period forecast lacks.
func (c *Client) FetchNWSGrid(ctx context.Context, station stations.Station) ([]WeatherData, error) {
	ref, err := c.gridFor(ctx, station)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/gridpoints/%s/%d,%d", nwsAPIBase, ref.Office, ref.X, ref.Y)
	body, err := c.fetcher.GetText(ctx, url)
	if err != nil {
		return nil, err
	}
	return NormalizeNWSGrid(station, []byte(body), time.Now().UTC())
}

// openMeteoRequestURL builds the three-model daily forecast request. The
// daily aggregates must run over the station's local calendar day, so the
// request carries the station timezone; UTC day boundaries would shift the
// daily-high window by several hours for these stations.
func openMeteoRequestURL(station stations.Station) string {
	return fmt.Sprintf(
		"%s?latitude=%.4f&longitude=%.4f&daily=temperature_2m_max,temperature_2m_min,windspeed_10m_max"+
			"&temperature_unit=fahrenheit&windspeed_unit=mph&timezone=%s&forecast_days=7&models=%s",
		openMeteoURL, station.Lat, station.Lon, url.QueryEscape(station.Timezone), openMeteoModelList,
	)
}

// FetchOpenMeteo retrieves the three-model Open-Meteo daily forecast in a
// single request and returns one row per (model, date).
func (c *Client) FetchOpenMeteo(ctx context.Context, station stations.Station) ([]WeatherData, error) {
	body, err := c.fetcher.GetText(ctx, openMeteoRequestURL(station))
	if err != nil {
		return nil, err
	}
	return NormalizeOpenMeteo(station, []byte(body), time.Now().UTC())
}

// FetchAll gathers every forecast source for the station, logging and
// skipping sources that fail. It errors only when nothing was fetched.
func (c *Client) FetchAll(ctx context.Context, station stations.Station) ([]WeatherData, error) {
	type fetchFn struct {
		name string
		fn   func(context.Context, stations.Station) ([]WeatherData, error)
	}
	fns := []fetchFn{
		{"nws_forecast", c.FetchNWSForecast},
		{"nws_grid", c.FetchNWSGrid},
		{"open_meteo", c.FetchOpenMeteo},
	}

	var out []WeatherData
	var lastErr error
	for _, f := range fns {
		rows, err := f.fn(ctx, station)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("city", station.City).Str("source", f.name).
				Msg("forecast source failed")
			continue
		}
		out = append(out, rows...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("all forecast sources failed for %s: %w", station.City, lastErr)
	}
	return out, nil
}

// FetchCLI retrieves and parses the daily climate report text product for
// the station's issuing office.
func (c *Client) FetchCLI(ctx context.Context, station stations.Station) (*CLIReport, error) {
	url := fmt.Sprintf("%s?site=%s&issuedby=%s&product=CLI&format=txt&version=1&glossary=0",
		nwsProducts, station.CLIOffice, station.CLIStation)
	body, err := c.fetcher.GetText(ctx, url)
	if err != nil {
		return nil, err
	}
	report, err := ParseCLI(body)
	if err != nil {
		return nil, err
	}
	if report.StationID != station.StationID {
		c.log.Warn().Str("city", station.City).
			Str("want", station.StationID).Str("got", report.StationID).
			Msg("CLI report station mismatch")
	}
	return report, nil
}
