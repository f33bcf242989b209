package scoring

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sepsisguard/platform/internal/history"
	"github.com/sepsisguard/platform/internal/risk"
	"github.com/sepsisguard/platform/internal/shared/errors"
	"github.com/sepsisguard/platform/internal/vitals"
)

// Handler exposes the incremental submission interface over HTTP.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the scoring routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/patients/{id}/hours", func(r chi.Router) {
		r.Post("/", h.SubmitHour)
		r.Get("/", h.ListHours)
	})
	r.Post("/validate", h.Validate)
	r.Get("/risk/tiers", h.ListTiers)

	return r
}

// SubmitHourRequest is the body of an hourly submission
type SubmitHourRequest struct {
	Hour       *int           `json:"hour"`
	VitalSigns map[string]any `json:"vital_signs"`
}

// SubmitHour stores one hour for a patient and returns its assessment
func (h *Handler) SubmitHour(w http.ResponseWriter, r *http.Request) {
	var req SubmitHourRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Hour == nil || req.VitalSigns == nil {
		writeError(w, errors.BadRequest("hour and vital_signs are required"))
		return
	}

	a, err := h.service.ScoreNextHour(r.Context(), Submission{
		PatientID: chi.URLParam(r, "id"),
		Hour:      *req.Hour,
		Values:    req.VitalSigns,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if a.Replaced {
		status = http.StatusOK
	}
	writeJSON(w, status, a)
}

// ListHours returns the stored hours of a patient
func (h *Handler) ListHours(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"patient_id": id,
		"hours":      entries,
		"count":      len(entries),
	})
}

// Validate checks a set of vital signs without storing or scoring them
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeError(w, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, vitals.Validate(values))
}

// ListTiers returns the risk tiers in ascending order
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tiers":              risk.Tiers,
		"decision_threshold": h.service.cfg.Threshold,
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":      appErr.Message,
			"code":       appErr.Code,
			"details":    appErr.Details,
			"violations": appErr.Violations,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
