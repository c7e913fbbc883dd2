package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightsmile/careflow/internal/api/middleware"
	"github.com/brightsmile/careflow/internal/domain/treatment"
	"github.com/brightsmile/careflow/internal/observability/metrics"
)

// TreatmentHandler exposes the treatment workflow over HTTP. Every
// transition loads the aggregate, applies the guarded method and saves
// the resulting events; a guard rejection maps to 409.
type TreatmentHandler struct {
	repo    *treatment.Repository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewTreatmentHandler creates a treatment handler.
func NewTreatmentHandler(repo *treatment.Repository, m *metrics.Metrics, logger *zap.Logger) *TreatmentHandler {
	return &TreatmentHandler{repo: repo, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *TreatmentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/events", h.GetEvents)
	r.Post("/{id}/present", h.Present)
	r.Post("/{id}/decision", h.ApplyDecision)
	r.Post("/{id}/prep", h.Prep)
	r.Post("/{id}/anesthesia", h.RecordAnesthesia)
	r.Post("/{id}/begin", h.Begin)
	r.Post("/{id}/notes", h.AddNote)
	r.Post("/{id}/complete", h.Complete)
	r.Post("/{id}/post-treatment", h.RecordPostTreatment)
	r.Post("/{id}/archive", h.Archive)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/refer", h.Refer)
	return r
}

// CreateTreatmentRequest opens a treatment episode directly, for charts
// migrated without an exam completion call.
type CreateTreatmentRequest struct {
	ExamID    string `json:"exam_id"`
	PatientID string `json:"patient_id"`
}

// Create handles POST /treatments.
func (h *TreatmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateTreatmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ExamID == "" || req.PatientID == "" {
		jsonError(w, "exam_id and patient_id are required", http.StatusBadRequest)
		return
	}

	id := uuid.New().String()
	agg, err := treatment.New(id, req.ExamID, req.PatientID)
	if err != nil {
		h.logger.Error("open treatment failed", zap.Error(err))
		jsonError(w, "failed to open treatment episode", http.StatusInternalServerError)
		return
	}

	if err := h.save(r, agg); err != nil {
		jsonError(w, "failed to save treatment episode", http.StatusInternalServerError)
		return
	}

	h.logger.Info("treatment opened",
		zap.String("id", id),
		zap.String("exam_id", req.ExamID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(h.view(agg))
}

// Get handles GET /treatments/{id}.
func (h *TreatmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agg, ok := h.load(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.view(agg))
}

// GetEvents handles GET /treatments/{id}/events.
func (h *TreatmentHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	events, err := h.repo.GetEvents(ctx, id)
	if err != nil {
		jsonError(w, "failed to get events", http.StatusInternalServerError)
		return
	}
	if len(events) == 0 {
		jsonError(w, "treatment not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// PresentRequest records the plan presentation.
type PresentRequest struct {
	PresentedBy string `json:"presented_by"`
}

// Present handles POST /treatments/{id}/present.
func (h *TreatmentHandler) Present(w http.ResponseWriter, r *http.Request) {
	var req PresentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.transition(w, r, string(treatment.EventTreatmentPresented), func(agg *treatment.Workflow) error {
		return agg.Present(req.PresentedBy)
	})
}

// DecisionRequest applies the patient decision on the proposed plan.
type DecisionRequest struct {
	Decision      treatment.Decision             `json:"decision"`
	Hold          bool                           `json:"hold,omitempty"`
	Authorization *treatment.AuthorizationRecord `json:"authorization,omitempty"`
	Source        string                         `json:"source,omitempty"`
}

// ApplyDecision handles POST /treatments/{id}/decision.
func (h *TreatmentHandler) ApplyDecision(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		req.Source = "manual"
	}
	if req.Authorization != nil && req.Authorization.AuthorizedAt.IsZero() {
		req.Authorization.AuthorizedAt = time.Now().UTC()
	}
	h.transition(w, r, string(treatment.EventDecisionApplied), func(agg *treatment.Workflow) error {
		return agg.ApplyDecision(req.Decision, req.Authorization, req.Hold, req.Source)
	})
}

// PrepRequest records chair-side preparation.
type PrepRequest struct {
	PreppedBy string `json:"prepped_by"`
}

// Prep handles POST /treatments/{id}/prep.
func (h *TreatmentHandler) Prep(w http.ResponseWriter, r *http.Request) {
	var req PrepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.transition(w, r, string(treatment.EventTreatmentPrepped), func(agg *treatment.Workflow) error {
		return agg.Prep(req.PreppedBy)
	})
}

// RecordAnesthesia handles POST /treatments/{id}/anesthesia.
func (h *TreatmentHandler) RecordAnesthesia(w http.ResponseWriter, r *http.Request) {
	var rec treatment.AnesthesiaRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if rec.AdministeredAt.IsZero() {
		rec.AdministeredAt = time.Now().UTC()
	}
	h.transition(w, r, string(treatment.EventAnesthesiaRecorded), func(agg *treatment.Workflow) error {
		return agg.RecordAnesthesia(rec)
	})
}

// BeginRequest starts the procedure.
type BeginRequest struct {
	StartedBy string `json:"started_by"`
}

// Begin handles POST /treatments/{id}/begin.
func (h *TreatmentHandler) Begin(w http.ResponseWriter, r *http.Request) {
	var req BeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.transition(w, r, string(treatment.EventTreatmentStarted), func(agg *treatment.Workflow) error {
		return agg.Begin(req.StartedBy)
	})
}

// AddNote handles POST /treatments/{id}/notes.
func (h *TreatmentHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	var note treatment.ProceduralNote
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if note.RecordedAt.IsZero() {
		note.RecordedAt = time.Now().UTC()
	}
	h.transition(w, r, string(treatment.EventProceduralNoteAdded), func(agg *treatment.Workflow) error {
		return agg.AddProceduralNote(note)
	})
}

// CompleteTreatmentRequest marks the procedure done.
type CompleteTreatmentRequest struct {
	CompletedBy string `json:"completed_by"`
}

// Complete handles POST /treatments/{id}/complete.
func (h *TreatmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteTreatmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.transition(w, r, string(treatment.EventTreatmentCompleted), func(agg *treatment.Workflow) error {
		return agg.Complete(req.CompletedBy)
	})
}

// RecordPostTreatment handles POST /treatments/{id}/post-treatment.
func (h *TreatmentHandler) RecordPostTreatment(w http.ResponseWriter, r *http.Request) {
	var rec treatment.PostTreatmentRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	h.transition(w, r, string(treatment.EventPostTreatmentRecorded), func(agg *treatment.Workflow) error {
		return agg.RecordPostTreatment(rec)
	})
}

// Archive handles POST /treatments/{id}/archive.
func (h *TreatmentHandler) Archive(w http.ResponseWriter, r *http.Request) {
	var summary treatment.CompletionSummary
	if err := json.NewDecoder(r.Body).Decode(&summary); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if summary.SummarizedAt.IsZero() {
		summary.SummarizedAt = time.Now().UTC()
	}
	h.transition(w, r, string(treatment.EventTreatmentArchived), func(agg *treatment.Workflow) error {
		return agg.Archive(summary)
	})
}

// CancelRequest terminates the episode.
type CancelRequest struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
}

// Cancel handles POST /treatments/{id}/cancel.
func (h *TreatmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.transition(w, r, string(treatment.EventTreatmentCancelled), func(agg *treatment.Workflow) error {
		return agg.Cancel(req.Reason, req.CancelledBy)
	})
}

// ReferRequest hands the episode to an external provider.
type ReferRequest struct {
	ReferredTo string `json:"referred_to"`
	Reason     string `json:"reason"`
	ReferredBy string `json:"referred_by"`
}

// Refer handles POST /treatments/{id}/refer.
func (h *TreatmentHandler) Refer(w http.ResponseWriter, r *http.Request) {
	var req ReferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.transition(w, r, string(treatment.EventTreatmentReferred), func(agg *treatment.Workflow) error {
		return agg.Refer(req.ReferredTo, req.Reason, req.ReferredBy)
	})
}

// transition loads the episode, applies one guarded mutation and saves.
func (h *TreatmentHandler) transition(w http.ResponseWriter, r *http.Request, eventType string, mutate func(*treatment.Workflow) error) {
	agg, ok := h.load(w, r)
	if !ok {
		return
	}

	if err := mutate(agg); err != nil {
		var invalid *treatment.InvalidTransitionError
		if errors.As(err, &invalid) {
			h.metrics.InvalidTransitions.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{
				"error":     invalid.Error(),
				"current":   string(invalid.Current),
				"attempted": string(invalid.Attempted),
			})
			return
		}
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.save(r, agg); err != nil {
		jsonError(w, "failed to save treatment", http.StatusInternalServerError)
		return
	}

	h.metrics.WorkflowTransitions.WithLabelValues(eventType).Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.view(agg))
}

func (h *TreatmentHandler) load(w http.ResponseWriter, r *http.Request) (*treatment.Workflow, bool) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	agg, err := h.repo.Load(ctx, id)
	if err != nil {
		jsonError(w, "treatment not found", http.StatusNotFound)
		return nil, false
	}
	return agg, true
}

func (h *TreatmentHandler) save(r *http.Request, agg *treatment.Workflow) error {
	ctx := r.Context()
	actorRole, actorID := middleware.GetActor(ctx)
	for _, e := range agg.Changes() {
		e.WithActor(actorRole, actorID)
		e.CorrelationID = middleware.GetRequestID(ctx)
	}
	if err := h.repo.Save(ctx, agg); err != nil {
		h.logger.Error("save treatment failed",
			zap.String("id", agg.ID()), zap.Error(err))
		return err
	}
	return nil
}

func (h *TreatmentHandler) view(agg *treatment.Workflow) map[string]interface{} {
	v := map[string]interface{}{
		"id":         agg.ID(),
		"exam_id":    agg.ExamID(),
		"patient_id": agg.PatientID(),
		"status":     agg.Status(),
		"version":    agg.Version(),
		"created_at": agg.CreatedAt(),
		"updated_at": agg.UpdatedAt(),
	}
	if d, ok := agg.Decision(); ok {
		v["decision"] = d
	}
	if len(agg.Notes()) > 0 {
		v["notes"] = agg.Notes()
	}
	return v
}

func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
