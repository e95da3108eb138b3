// Package federal fetches weekly reference heating-oil prices from the EIA
// open data API.
package federal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/etrends/internal/config"
	"github.com/sells-group/etrends/internal/fetcher"
	"github.com/sells-group/etrends/internal/model"
)

const (
	// DefaultBaseURL is the EIA v2 weekly petroleum price route.
	DefaultBaseURL = "https://api.eia.gov/v2/petroleum/pri/wfr/data/"
	// DefaultSeries is Rhode Island residential No. 2 heating oil, $/gal.
	DefaultSeries = "W_EPD2F_PRS_SRI_DPG"

	defaultPageSize = 5000
	maxBodyBytes    = 16 << 20
)

// Client queries the EIA API through a Fetcher.
type Client struct {
	f        fetcher.Fetcher
	apiKey   string
	baseURL  string
	series   string
	pageSize int
}

// NewClient builds a Client from the federal config section. Empty fields
// fall back to the package defaults.
func NewClient(f fetcher.Fetcher, cfg config.FederalConfig) *Client {
	c := &Client{
		f:        f,
		apiKey:   cfg.APIKey,
		baseURL:  cfg.BaseURL,
		series:   cfg.Series,
		pageSize: cfg.PageSize,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.series == "" {
		c.series = DefaultSeries
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	return c
}

type apiResponse struct {
	Response *struct {
		Total json.RawMessage `json:"total"`
		Data  *[]apiEntry     `json:"data"`
	} `json:"response"`
}

type apiEntry struct {
	Period string          `json:"period"`
	Value  json.RawMessage `json:"value"`
}

// Fetch returns every weekly point on or after since (all exposed points when
// since is nil). Entries with an unparseable period or value are skipped.
// Network, status and payload-shape failures are fetch errors.
func (c *Client) Fetch(ctx context.Context, since *time.Time) ([]model.FederalPoint, error) {
	log := zap.L().With(zap.String("component", "federal"), zap.String("series", c.series))

	if c.apiKey == "" {
		return nil, model.FetchError(eris.New("federal: api key is not configured (set ETRENDS_FEDERAL_API_KEY)"))
	}

	reqURL, err := c.buildURL(since)
	if err != nil {
		return nil, model.FetchError(err)
	}

	body, err := c.f.Download(ctx, reqURL)
	if err != nil {
		return nil, model.FetchError(eris.Wrap(err, "federal: download"))
	}
	defer body.Close() //nolint:errcheck

	data, err := fetcher.ReadLimited(body, maxBodyBytes)
	if err != nil {
		return nil, model.FetchError(eris.Wrap(err, "federal: read body"))
	}

	resp, err := fetcher.DecodeJSONObject[apiResponse](bytes.NewReader(data))
	if err != nil {
		return nil, model.FetchError(eris.Wrap(err, "federal: malformed payload"))
	}
	if resp.Response == nil || resp.Response.Data == nil {
		return nil, model.FetchError(eris.New("federal: malformed payload: missing response.data"))
	}

	entries := *resp.Response.Data
	points := make([]model.FederalPoint, 0, len(entries))
	for i, e := range entries {
		date, err := time.Parse(model.DateLayout, e.Period)
		if err != nil {
			log.Warn("skipping entry: bad period", zap.Int("index", i), zap.String("period", e.Period))
			continue
		}
		price, ok := parseValue(e.Value)
		if !ok {
			log.Warn("skipping entry: bad value",
				zap.Int("index", i),
				zap.String("period", e.Period),
				zap.ByteString("value", e.Value),
			)
			continue
		}
		points = append(points, model.FederalPoint{Date: date, Price: price})
	}

	log.Info("fetched federal prices", zap.Int("entries", len(entries)), zap.Int("points", len(points)))
	return points, nil
}

func (c *Client) buildURL(since *time.Time) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", eris.Wrapf(err, "federal: parse base url %q", c.baseURL)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("frequency", "weekly")
	q.Set("data[0]", "value")
	q.Set("facets[series][]", c.series)
	q.Set("sort[0][column]", "period")
	q.Set("sort[0][direction]", "desc")
	q.Set("offset", "0")
	q.Set("length", strconv.Itoa(c.pageSize))
	if since != nil {
		q.Set("start", since.UTC().Format(model.DateLayout))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseValue accepts a JSON number or a numeric string. Null, empty and
// negative values report false.
func parseValue(raw json.RawMessage) (decimal.Decimal, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Decimal{}, false
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, false
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, false
	}
	return d, true
}
