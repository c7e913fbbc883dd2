// Package handlers provides HTTP handlers for the workflow API.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/brightsmile/careflow/internal/api/middleware"
	"github.com/brightsmile/careflow/internal/domain/plan"
	"github.com/brightsmile/careflow/internal/domain/treatment"
	"github.com/brightsmile/careflow/internal/infrastructure/postgres"
	"github.com/brightsmile/careflow/internal/infrastructure/redpanda"
	"github.com/brightsmile/careflow/internal/observability/metrics"
	"github.com/brightsmile/careflow/internal/routing"
)

// ExamHandler handles exam completion: it analyzes the proposed plan,
// routes the patient, opens the treatment episode and stages the
// routing request for the worker.
type ExamHandler struct {
	pool    *pgxpool.Pool
	repo    *treatment.Repository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewExamHandler creates an exam handler.
func NewExamHandler(pool *pgxpool.Pool, repo *treatment.Repository, m *metrics.Metrics, logger *zap.Logger) *ExamHandler {
	return &ExamHandler{pool: pool, repo: repo, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *ExamHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{examID}/complete", h.Complete)
	return r
}

// CompleteRequest is the request body for finalizing an exam.
type CompleteRequest struct {
	PatientID   string              `json:"patient_id"`
	PatientName string              `json:"patient_name"`
	DoctorID    string              `json:"doctor_id,omitempty"`
	ChairID     string              `json:"chair_id,omitempty"`
	VisitType   string              `json:"visit_type,omitempty"`
	Plan        *plan.TreatmentPlan `json:"plan,omitempty"`
}

// CompleteResponse is the response for a finalized exam.
type CompleteResponse struct {
	ExamID          string           `json:"exam_id"`
	TreatmentID     string           `json:"treatment_id,omitempty"`
	Analysis        plan.Analysis    `json:"analysis"`
	Decision        routing.Decision `json:"decision"`
	Notification    string           `json:"notification"`
	HandlingMinutes int              `json:"handling_minutes"`
	CompletedAt     time.Time        `json:"completed_at"`
}

// routingRequestPayload is what the routing worker consumes. The worker
// re-derives the decision from the plan so a replayed message cannot
// disagree with a code change made in between.
type routingRequestPayload struct {
	ExamID      string              `json:"exam_id"`
	PatientID   string              `json:"patient_id"`
	PatientName string              `json:"patient_name"`
	DoctorID    string              `json:"doctor_id,omitempty"`
	ChairID     string              `json:"chair_id,omitempty"`
	VisitType   string              `json:"visit_type,omitempty"`
	Plan        *plan.TreatmentPlan `json:"plan,omitempty"`
	CompletedAt time.Time           `json:"completed_at"`
}

// Complete handles POST /exams/{examID}/complete.
func (h *ExamHandler) Complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	examID := chi.URLParam(r, "examID")

	tracer := otel.Tracer("exam-handler")
	ctx, span := tracer.Start(ctx, "complete_exam",
		trace.WithAttributes(attribute.String("exam_id", examID)))
	defer span.End()

	start := time.Now()

	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PatientID == "" {
		jsonError(w, "patient_id is required", http.StatusBadRequest)
		return
	}

	analysis := plan.Analyze(req.Plan)
	decision := routing.Route(routing.ExamContext{
		ExamID:    examID,
		DoctorID:  req.DoctorID,
		ChairID:   req.ChairID,
		VisitType: req.VisitType,
	}, req.Plan, req.PatientID)

	h.metrics.ExamsAnalyzed.Inc()
	h.metrics.RoutingDecisions.WithLabelValues(string(decision.NextStep), string(decision.Urgency)).Inc()
	if analysis.HasUrgentFindings {
		h.metrics.UrgentFindings.Inc()
	}
	span.SetAttributes(
		attribute.String("next_step", string(decision.NextStep)),
		attribute.String("urgency", string(decision.Urgency)),
		attribute.Int("procedure_count", analysis.ProcedureCount),
	)

	// One treatment episode per exam. A resubmitted completion reuses
	// the episode already opened for it.
	treatmentID, err := h.repo.FindByExam(ctx, examID)
	if err != nil {
		treatmentID = uuid.New().String()
		agg, aerr := treatment.New(treatmentID, examID, req.PatientID)
		if aerr != nil {
			h.logger.Error("open treatment failed", zap.Error(aerr))
			jsonError(w, "failed to open treatment episode", http.StatusInternalServerError)
			return
		}
		actorRole, actorID := middleware.GetActor(ctx)
		for _, e := range agg.Changes() {
			e.WithActor(actorRole, actorID)
			e.CorrelationID = middleware.GetRequestID(ctx)
		}
		if serr := h.repo.Save(ctx, agg); serr != nil {
			h.logger.Error("save treatment failed", zap.Error(serr))
			jsonError(w, "failed to save treatment episode", http.StatusInternalServerError)
			return
		}
	}

	if err := h.stageRoutingRequest(r, examID, &req); err != nil {
		h.logger.Error("stage routing request failed",
			zap.String("exam_id", examID), zap.Error(err))
		jsonError(w, "failed to stage routing request", http.StatusInternalServerError)
		return
	}

	h.metrics.RoutingDuration.Observe(time.Since(start).Seconds())
	h.logger.Info("exam completed",
		zap.String("exam_id", examID),
		zap.String("patient_id", req.PatientID),
		zap.String("next_step", string(decision.NextStep)),
		zap.String("urgency", string(decision.Urgency)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	resp := CompleteResponse{
		ExamID:          examID,
		TreatmentID:     treatmentID,
		Analysis:        analysis,
		Decision:        decision,
		Notification:    routing.NotificationText(decision, req.PatientName),
		HandlingMinutes: routing.HandlingMinutes(decision.NextStep),
		CompletedAt:     time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (h *ExamHandler) stageRoutingRequest(r *http.Request, examID string, req *CompleteRequest) error {
	ctx := r.Context()

	payload, err := json.Marshal(routingRequestPayload{
		ExamID:      examID,
		PatientID:   req.PatientID,
		PatientName: req.PatientName,
		DoctorID:    req.DoctorID,
		ChairID:     req.ChairID,
		VisitType:   req.VisitType,
		Plan:        req.Plan,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal routing request: %w", err)
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := postgres.WriteEntry(ctx, tx, &postgres.OutboxEntry{
		AggregateID:   examID,
		AggregateType: "Exam",
		EventType:     "ExamCompleted",
		Payload:       payload,
		KafkaTopic:    redpanda.TopicRoutingRequests,
		KafkaKey:      examID,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
