package scoring

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sepsisguard/platform/internal/history"
	"github.com/sepsisguard/platform/internal/shared/config"
	"github.com/sepsisguard/platform/internal/shared/errors"
	"github.com/sepsisguard/platform/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	svc := newTestService(t, &fakeModel{}, history.NewMemoryStore(), nil)
	r := chi.NewRouter()
	r.Mount("/api/v1", NewHandler(svc).Routes())
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitHourCreatesThenReplaces(t *testing.T) {
	h := newTestRouter(t)
	body := `{"hour": 1, "vital_signs": {"HR": 100, "Temp": 39}}`

	rec := do(t, h, http.MethodPost, "/api/v1/patients/17/hours", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var a Assessment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&a))
	assert.Equal(t, "17", a.PatientID)
	assert.Equal(t, 5, a.Padded)
	assert.False(t, a.Replaced)

	rec = do(t, h, http.MethodPost, "/api/v1/patients/17/hours", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/patients/17/hours", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		PatientID string           `json:"patient_id"`
		Count     int              `json:"count"`
		Hours     []map[string]any `json:"hours"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	assert.Equal(t, 1, listed.Count)
	assert.Contains(t, listed.Hours[0], "assessment")
}

func TestSubmitHourValidationFailure(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/v1/patients/17/hours", `{"hour": 1, "vital_signs": {"HR": 205}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Code       string   `json:"code"`
		Violations []string `json:"violations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	assert.Equal(t, []string{"HR must be between 40 and 200 (got 205)"}, body.Violations)

	rec = do(t, h, http.MethodGet, "/api/v1/patients/17/hours", "")
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestSubmitHourMalformed(t *testing.T) {
	h := newTestRouter(t)

	for _, body := range []string{`not json`, `{"vital_signs": {}}`, `{"hour": 2}`} {
		rec := do(t, h, http.MethodPost, "/api/v1/patients/17/hours", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestValidateEndpoint(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/v1/validate", `{"HR": 40, "Temp": "hot"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Valid      bool `json:"valid"`
		Violations []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"violations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.False(t, res.Valid)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "Temp must be a valid number", res.Violations[0].Message)
}

func TestListTiers(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/api/v1/risk/tiers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tiers []struct {
			Level string `json:"level"`
		} `json:"tiers"`
		Threshold float64 `json:"decision_threshold"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Tiers, 5)
	assert.Equal(t, "very-low", body.Tiers[0].Level)
	assert.Equal(t, "very-high", body.Tiers[4].Level)
	assert.Equal(t, 0.1799, body.Threshold)
}

func TestHTTPScorer(t *testing.T) {
	var got predictRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models/sepsis_gru:predict", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"predictions": [[0.25], 0.75]}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(config.ScoringConfig{ModelURL: srv.URL + "/", ModelName: "sepsis_gru", FeatureWidth: 2})
	assert.Equal(t, 2, s.InputWidth())

	windows := [][]transform.FeatureVector{
		{{1, 2}, {3, 4}},
		{{5, 6}, {7, 8}},
	}
	probs, err := s.Score(t.Context(), windows)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.75}, probs)
	require.Len(t, got.Instances, 2)
	assert.Equal(t, transform.FeatureVector{7, 8}, got.Instances[1][1])
}

func TestHTTPScorerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "broken") {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"predictions": [[0.1, 0.9]]}`))
	}))
	defer srv.Close()

	windows := [][]transform.FeatureVector{{{1}}}

	_, err := NewHTTPScorer(config.ScoringConfig{ModelURL: srv.URL, ModelName: "broken"}).Score(t.Context(), windows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	_, err = NewHTTPScorer(config.ScoringConfig{ModelURL: srv.URL, ModelName: "multi"}).Score(t.Context(), windows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected one output")
}

const modelMetadata = `{
  "model_spec": {"name": "sepsis_gru", "version": "3"},
  "metadata": {"signature_def": {"signature_def": {
    "serving_default": {
      "inputs": {"input_1": {"dtype": "DT_FLOAT", "tensor_shape": {"dim": [{"size": "-1"}, {"size": "6"}, {"size": "%s"}], "unknown_rank": false}}},
      "method_name": "tensorflow/serving/predict"
    }
  }}}
}`

func metadataServer(t *testing.T, width string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models/sepsis_gru/metadata" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, strings.Replace(modelMetadata, "%s", width, 1))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPScorerDiscoversWidth(t *testing.T) {
	srv := metadataServer(t, "3")

	s := NewHTTPScorer(config.ScoringConfig{ModelURL: srv.URL, ModelName: "sepsis_gru"})
	assert.Equal(t, 0, s.InputWidth())
	require.NoError(t, s.DiscoverWidth(t.Context()))
	assert.Equal(t, 3, s.InputWidth())

	// a 2-wide transform never reaches a 3-wide model
	_, err := NewService(testTransform(t), s, history.NewMemoryStore(), nil, testConfig(), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStaleArtifact))
}

func TestHTTPScorerConfiguredWidthSkipsMetadata(t *testing.T) {
	s := NewHTTPScorer(config.ScoringConfig{ModelURL: "http://127.0.0.1:1", ModelName: "sepsis_gru", FeatureWidth: 2})
	require.NoError(t, s.DiscoverWidth(t.Context()))
	assert.Equal(t, 2, s.InputWidth())
}

func TestHTTPScorerDiscoverWidthErrors(t *testing.T) {
	unknown := metadataServer(t, "-1")
	s := NewHTTPScorer(config.ScoringConfig{ModelURL: unknown.URL, ModelName: "sepsis_gru"})
	assert.Error(t, s.DiscoverWidth(t.Context()))
	assert.Equal(t, 0, s.InputWidth())

	missing := NewHTTPScorer(config.ScoringConfig{ModelURL: unknown.URL, ModelName: "other"})
	err := missing.DiscoverWidth(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
