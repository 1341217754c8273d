package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/pkg/httpclient"
)

// HTTPProvider reads snapshots from a JSON rate feed:
//
//	GET {baseURL}/fx?base=USD&quote=COP
//	{"spot":"4201.5","base_rate":"0.0525","quote_rate":"0.095","risk_score":35,"as_of":"2025-03-01T14:00:00Z"}
type HTTPProvider struct {
	client  *httpclient.Client
	baseURL string
}

func NewHTTPProvider(client *httpclient.Client, baseURL string) *HTTPProvider {
	return &HTTPProvider{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type feedResponse struct {
	Spot      decimal.Decimal `json:"spot"`
	BaseRate  decimal.Decimal `json:"base_rate"`
	QuoteRate decimal.Decimal `json:"quote_rate"`
	RiskScore float64         `json:"risk_score"`
	AsOf      time.Time       `json:"as_of"`
}

func (p *HTTPProvider) Snapshot(ctx context.Context, base, quote string) (Snapshot, error) {
	q := url.Values{}
	q.Set("base", strings.ToUpper(base))
	q.Set("quote", strings.ToUpper(quote))

	var resp feedResponse
	if err := p.client.GetJSON(ctx, p.baseURL+"/fx?"+q.Encode(), &resp); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !resp.Spot.IsPositive() {
		return Snapshot{}, fmt.Errorf("%w: feed returned non-positive spot for %s", ErrUnavailable, pairKey(base, quote))
	}
	if resp.AsOf.IsZero() {
		resp.AsOf = time.Now()
	}
	return Snapshot{
		Base:      strings.ToUpper(base),
		Quote:     strings.ToUpper(quote),
		Spot:      resp.Spot,
		BaseRate:  resp.BaseRate,
		QuoteRate: resp.QuoteRate,
		RiskScore: resp.RiskScore,
		AsOf:      resp.AsOf,
		Source:    "http",
	}, nil
}
