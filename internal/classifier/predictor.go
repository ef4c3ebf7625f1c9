package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/artista/market-ledger/internal/domain"
)

const predictTimeout = 30 * time.Second

// HTTPPredictor scores images against a remote NSFW prediction service
type HTTPPredictor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPredictor creates a predictor posting to baseURL/predict
func NewHTTPPredictor(baseURL string) *HTTPPredictor {
	return &HTTPPredictor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: predictTimeout},
	}
}

// Predict sends the image bytes to the prediction service and decodes the
// per-category scores. Service failures are transient; the caller may
// retry the mint once the service recovers.
func (p *HTTPPredictor) Predict(ctx context.Context, image []byte) (Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/predict", bytes.NewReader(image))
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return Prediction{}, domain.Transient(fmt.Errorf("prediction request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Prediction{}, domain.Transient(fmt.Errorf("prediction service returned %d: %s", resp.StatusCode, body))
	}

	var scores struct {
		Hentai float64 `json:"hentai"`
		Porn   float64 `json:"porn"`
		Sexy   float64 `json:"sexy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return Prediction{}, domain.Transient(fmt.Errorf("failed to decode prediction response: %w", err))
	}

	return Prediction{Hentai: scores.Hentai, Porn: scores.Porn, Sexy: scores.Sexy}, nil
}

// StaticPredictor returns the same prediction for every image. Used when
// no prediction service is configured.
type StaticPredictor struct {
	Result Prediction
}

// Predict returns the fixed prediction
func (p StaticPredictor) Predict(ctx context.Context, image []byte) (Prediction, error) {
	return p.Result, nil
}
