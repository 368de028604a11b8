package scorer

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"strategy-engine/internal/features"
)

// HTTPOpinion queries an external scoring service for a [-1, 1] view on the
// market. The service receives the raw indicator readings and answers with a
// single score; any blending arithmetic stays on this side.
type HTTPOpinion struct {
	client *resty.Client
}

// NewHTTPOpinion builds the client. key may be empty for unauthenticated
// services.
func NewHTTPOpinion(baseURL, key string, timeout time.Duration) *HTTPOpinion {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1)
	if key != "" {
		c.SetHeader("Authorization", "Bearer "+key)
	}
	return &HTTPOpinion{client: c}
}

type opinionRequest struct {
	Close      float64 `json:"close"`
	RSI        float64 `json:"rsi"`
	MACDLine   float64 `json:"macd_line"`
	MACDHist   float64 `json:"macd_hist"`
	ADX        float64 `json:"adx"`
	ATRPct     float64 `json:"atr_pct"`
	BandPos    float64 `json:"band_position"`
	OBVSlope   float64 `json:"obv_slope"`
	Volatility float64 `json:"volatility"`
}

type opinionResponse struct {
	Score float64 `json:"score"`
}

// Score implements Opinion.
func (o *HTTPOpinion) Score(snap *features.Snapshot) (float64, error) {
	var out opinionResponse
	resp, err := o.client.R().
		SetBody(opinionRequest{
			Close:      snap.Close,
			RSI:        snap.RSI,
			MACDLine:   snap.MACDLine,
			MACDHist:   snap.MACDHist,
			ADX:        snap.ADX,
			ATRPct:     snap.ATRPct(),
			BandPos:    snap.BandPosition(),
			OBVSlope:   snap.OBVSlope,
			Volatility: snap.Volatility,
		}).
		SetResult(&out).
		Post("/v1/score")
	if err != nil {
		return 0, fmt.Errorf("query external scorer: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("external scorer returned %s", resp.Status())
	}
	return out.Score, nil
}
