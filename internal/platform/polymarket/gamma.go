package polymarket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"encoding/json"

	"github.com/marketloop/spreadbot/internal/domain"
)

// GammaClient is the REST client for the Gamma directory API, which
// serves market discovery and metadata. All endpoints are public.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a Gamma API client.
//
// baseURL is the API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// pageSize is the Gamma API's maximum markets page.
const pageSize = 500

// ActiveMarkets lists open binary markets with at least minVolume24h of
// 24h volume, paging through the directory until maxPages pages or a
// short page. Rows without two outcome tokens are skipped.
func (g *GammaClient) ActiveMarkets(ctx context.Context, minVolume24h float64, maxPages int) ([]domain.Market, error) {
	if maxPages <= 0 {
		maxPages = 4
	}

	var out []domain.Market
	for page := 0; page < maxPages; page++ {
		params := url.Values{}
		params.Set("active", "true")
		params.Set("closed", "false")
		params.Set("limit", strconv.Itoa(pageSize))
		params.Set("offset", strconv.Itoa(page*pageSize))
		params.Set("order", "volume24hr")
		params.Set("ascending", "false")
		if minVolume24h > 0 {
			params.Set("volume_num_min", strconv.FormatFloat(minVolume24h, 'f', -1, 64))
		}

		rows, err := g.listMarkets(ctx, "/markets?"+params.Encode())
		if err != nil {
			return nil, err
		}

		for i := range rows {
			m, ok := rows[i].toDomain()
			if !ok || m.Closed || !m.Active {
				continue
			}
			if m.Volume24h < minVolume24h {
				continue
			}
			out = append(out, m)
		}

		if len(rows) < pageSize {
			break
		}
	}
	return out, nil
}

// MarketByCondition looks up a single market by its condition id.
func (g *GammaClient) MarketByCondition(ctx context.Context, conditionID domain.ConditionID) (domain.Market, error) {
	params := url.Values{}
	params.Set("condition_ids", string(conditionID))

	rows, err := g.listMarkets(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.Market{}, err
	}
	for i := range rows {
		if m, ok := rows[i].toDomain(); ok {
			return m, nil
		}
	}
	return domain.Market{}, fmt.Errorf("polymarket/gamma: condition %s: %w", conditionID, domain.ErrNotFound)
}

// ---- Internal helpers ----

func (g *GammaClient) listMarkets(ctx context.Context, path string) ([]gammaMarket, error) {
	body, err := g.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list markets: %w", err)
	}

	var rows []gammaMarket
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	return rows, nil
}

func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}
