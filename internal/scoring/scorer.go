package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sepsisguard/platform/internal/shared/config"
	"github.com/sepsisguard/platform/internal/transform"
)

// Scorer is the trained sequence model. It maps each window, a
// window-size list of feature vectors, to one probability.
type Scorer interface {
	Score(ctx context.Context, windows [][]transform.FeatureVector) ([]float64, error)
	// InputWidth is the per-hour feature width the model expects, 0 if unknown.
	InputWidth() int
}

// ScorerFunc adapts a function to Scorer with an unknown input width.
type ScorerFunc func(ctx context.Context, windows [][]transform.FeatureVector) ([]float64, error)

func (f ScorerFunc) Score(ctx context.Context, windows [][]transform.FeatureVector) ([]float64, error) {
	return f(ctx, windows)
}

func (f ScorerFunc) InputWidth() int { return 0 }

// HTTPScorer calls a model server speaking the TensorFlow Serving REST
// predict API: POST {base}/v1/models/{name}:predict.
type HTTPScorer struct {
	baseURL    string
	model      string
	width      int
	httpClient *http.Client
}

// NewHTTPScorer creates a model client. Per-call deadlines come from the
// caller's context; the client timeout is only a backstop.
func NewHTTPScorer(cfg config.ScoringConfig) *HTTPScorer {
	return &HTTPScorer{
		baseURL: strings.TrimRight(cfg.ModelURL, "/"),
		model:   cfg.ModelName,
		width:   cfg.FeatureWidth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *HTTPScorer) InputWidth() int { return s.width }

type metadataResponse struct {
	Metadata struct {
		SignatureDef struct {
			SignatureDef map[string]struct {
				Inputs map[string]struct {
					TensorShape struct {
						Dim []struct {
							Size string `json:"size"`
						} `json:"dim"`
					} `json:"tensor_shape"`
				} `json:"inputs"`
			} `json:"signature_def"`
		} `json:"signature_def"`
	} `json:"metadata"`
}

// DiscoverWidth reads the per-hour input width from the serving_default
// signature at {base}/v1/models/{name}/metadata when it was not configured.
// It must be called before the scorer is shared.
func (s *HTTPScorer) DiscoverWidth(ctx context.Context) error {
	if s.width > 0 {
		return nil
	}

	url := fmt.Sprintf("%s/v1/models/%s/metadata", s.baseURL, s.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model metadata request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model metadata returned %d", resp.StatusCode)
	}

	var meta metadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return fmt.Errorf("failed to decode model metadata: %w", err)
	}
	sig, ok := meta.Metadata.SignatureDef.SignatureDef["serving_default"]
	if !ok {
		return fmt.Errorf("model %s has no serving_default signature", s.model)
	}
	if len(sig.Inputs) != 1 {
		return fmt.Errorf("model %s has %d inputs, expected one", s.model, len(sig.Inputs))
	}
	for name, in := range sig.Inputs {
		dims := in.TensorShape.Dim
		if len(dims) != 3 {
			return fmt.Errorf("input %s has rank %d, expected (batch, hours, features)", name, len(dims))
		}
		width, err := strconv.Atoi(dims[2].Size)
		if err != nil || width <= 0 {
			return fmt.Errorf("input %s has no fixed feature width (%q)", name, dims[2].Size)
		}
		s.width = width
	}
	return nil
}

type predictRequest struct {
	Instances [][]transform.FeatureVector `json:"instances"`
}

type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error,omitempty"`
}

func (s *HTTPScorer) Score(ctx context.Context, windows [][]transform.FeatureVector) ([]float64, error) {
	body, err := json.Marshal(predictRequest{Instances: windows})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal windows: %w", err)
	}

	url := fmt.Sprintf("%s/v1/models/%s:predict", s.baseURL, s.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("model returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("model error: %s", result.Error)
	}
	if len(result.Predictions) != len(windows) {
		return nil, fmt.Errorf("model returned %d predictions for %d windows", len(result.Predictions), len(windows))
	}

	probs := make([]float64, len(result.Predictions))
	for i, raw := range result.Predictions {
		p, err := decodePrediction(raw)
		if err != nil {
			return nil, fmt.Errorf("prediction %d: %w", i, err)
		}
		probs[i] = p
	}
	return probs, nil
}

// decodePrediction accepts a bare number or a one-element array, the two
// shapes a single-sigmoid output takes.
func decodePrediction(raw json.RawMessage) (float64, error) {
	var p float64
	if err := json.Unmarshal(raw, &p); err == nil {
		return p, nil
	}
	var arr []float64
	if err := json.Unmarshal(raw, &arr); err != nil {
		return 0, fmt.Errorf("unexpected prediction %s", string(raw))
	}
	if len(arr) != 1 {
		return 0, fmt.Errorf("expected one output, got %d", len(arr))
	}
	return arr[0], nil
}

// Health checks the model status endpoint.
func (s *HTTPScorer) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/models/%s", s.baseURL, s.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model status %d", resp.StatusCode)
	}
	return nil
}
