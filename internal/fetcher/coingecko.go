package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	globalPath  = "/global"
	marketsPath = "/coins/markets"
)

// CoinGeckoOptions parameterise the CoinGecko client.
type CoinGeckoOptions struct {
	BaseURL    string
	VSCurrency string
	Timeout    time.Duration
	UserAgent  string
}

// CoinGecko fetches dominance, market, and historical data from the public API.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinGecko constructs a CoinGecko client.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if opts.VSCurrency == "" {
		opts.VSCurrency = "usd"
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchDominance retrieves BTC.D from the /global endpoint.
func (c *CoinGecko) FetchDominance(ctx context.Context) (decimal.Decimal, error) {
	payload, err := c.get(ctx, c.baseURL+globalPath)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var res globalResponse
	if err := unmarshalNumbers(payload, &res); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode global response: %w", err)
	}

	raw, ok := res.Data.MarketCapPercentage["btc"]
	if !ok {
		return decimal.Decimal{}, errors.New("global response missing btc market cap percentage")
	}

	dominance, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse btc dominance: %w", err)
	}
	if dominance.IsZero() {
		return decimal.Decimal{}, errors.New("btc dominance returned zero")
	}
	return dominance, nil
}

// FetchMarkets retrieves current price and 24h volume for the given coin ids.
func (c *CoinGecko) FetchMarkets(ctx context.Context, ids []string) ([]Quote, error) {
	if len(ids) == 0 {
		return nil, errors.New("at least one coin id required")
	}

	query := url.Values{}
	query.Set("vs_currency", c.opts.VSCurrency)
	query.Set("ids", strings.Join(ids, ","))
	query.Set("order", "market_cap_desc")
	query.Set("per_page", strconv.Itoa(len(ids)))
	query.Set("page", "1")
	query.Set("sparkline", "false")

	payload, err := c.get(ctx, c.baseURL+marketsPath+"?"+query.Encode())
	if err != nil {
		return nil, err
	}

	var rows []marketRow
	if err := unmarshalNumbers(payload, &rows); err != nil {
		return nil, fmt.Errorf("decode markets response: %w", err)
	}

	quotes := make([]Quote, 0, len(rows))
	for _, row := range rows {
		price, err := decimal.NewFromString(row.CurrentPrice.String())
		if err != nil {
			return nil, fmt.Errorf("parse price for %s: %w", row.ID, err)
		}
		volume := decimal.Zero
		if row.TotalVolume != "" {
			volume, err = decimal.NewFromString(row.TotalVolume.String())
			if err != nil {
				return nil, fmt.Errorf("parse volume for %s: %w", row.ID, err)
			}
		}

		updated := time.Now().UTC()
		if row.LastUpdated != "" {
			if parsed, parseErr := time.Parse(time.RFC3339, row.LastUpdated); parseErr == nil {
				updated = parsed
			}
		}

		quotes = append(quotes, Quote{
			ID:        row.ID,
			Symbol:    strings.ToUpper(row.Symbol),
			Price:     price,
			Volume:    volume,
			UpdatedAt: updated,
		})
	}
	return quotes, nil
}

// FetchRange retrieves historical prices/volumes between from and to.
func (c *CoinGecko) FetchRange(ctx context.Context, id string, from, to time.Time) ([]HistoryPoint, error) {
	if id == "" {
		return nil, errors.New("coin id required")
	}
	if !from.Before(to) {
		return nil, errors.New("from must be before to")
	}

	query := url.Values{}
	query.Set("vs_currency", c.opts.VSCurrency)
	query.Set("from", strconv.FormatInt(from.Unix(), 10))
	query.Set("to", strconv.FormatInt(to.Unix(), 10))

	endpoint := fmt.Sprintf("%s/coins/%s/market_chart/range?%s", c.baseURL, url.PathEscape(id), query.Encode())
	payload, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var res rangeResponse
	if err := unmarshalNumbers(payload, &res); err != nil {
		return nil, fmt.Errorf("decode range response: %w", err)
	}

	volumes := make(map[int64]decimal.Decimal, len(res.TotalVolumes))
	for _, pair := range res.TotalVolumes {
		ts, volume, err := parsePair(pair)
		if err != nil {
			return nil, fmt.Errorf("parse volume pair: %w", err)
		}
		volumes[ts] = volume
	}

	points := make([]HistoryPoint, 0, len(res.Prices))
	for _, pair := range res.Prices {
		ts, price, err := parsePair(pair)
		if err != nil {
			return nil, fmt.Errorf("parse price pair: %w", err)
		}
		points = append(points, HistoryPoint{
			Timestamp: time.UnixMilli(ts).UTC(),
			Price:     price,
			Volume:    volumes[ts],
		})
	}
	return points, nil
}

func (c *CoinGecko) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "btcdwatcher/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

// unmarshalNumbers decodes JSON keeping numbers as strings so decimals survive.
func unmarshalNumbers(payload []byte, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()
	return dec.Decode(v)
}

func parsePair(pair []json.Number) (int64, decimal.Decimal, error) {
	if len(pair) != 2 {
		return 0, decimal.Decimal{}, fmt.Errorf("expected [ts, value] pair, got %d elements", len(pair))
	}
	ts, err := pair[0].Int64()
	if err != nil {
		// Timestamps occasionally arrive with a fractional part.
		f, floatErr := pair[0].Float64()
		if floatErr != nil {
			return 0, decimal.Decimal{}, err
		}
		ts = int64(f)
	}
	value, err := decimal.NewFromString(pair[1].String())
	if err != nil {
		return 0, decimal.Decimal{}, err
	}
	return ts, value, nil
}

type globalResponse struct {
	Data struct {
		MarketCapPercentage map[string]json.Number `json:"market_cap_percentage"`
	} `json:"data"`
}

type marketRow struct {
	ID           string      `json:"id"`
	Symbol       string      `json:"symbol"`
	CurrentPrice json.Number `json:"current_price"`
	TotalVolume  json.Number `json:"total_volume"`
	LastUpdated  string      `json:"last_updated"`
}

type rangeResponse struct {
	Prices       [][]json.Number `json:"prices"`
	TotalVolumes [][]json.Number `json:"total_volumes"`
}

type errorResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Error string `json:"error"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("coingecko api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("coingecko api error (%d)", status)
}

var _ DominanceFetcher = (*CoinGecko)(nil)
var _ MarketFetcher = (*CoinGecko)(nil)
var _ HistoryFetcher = (*CoinGecko)(nil)
