package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/brightsmile/careflow/internal/api/middleware"
	"github.com/brightsmile/careflow/internal/infrastructure/postgres"
	"github.com/brightsmile/careflow/internal/infrastructure/redpanda"
	"github.com/brightsmile/careflow/internal/notify"
	"github.com/brightsmile/careflow/internal/observability/metrics"
)

// AppointmentHandler handles appointment status changes. A valid change
// is delivered to the opposite role over the in-process bus and staged
// on the status.updates topic for out-of-process consumers.
type AppointmentHandler struct {
	bus     *notify.Bus
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAppointmentHandler creates an appointment handler.
func NewAppointmentHandler(bus *notify.Bus, pool *pgxpool.Pool, m *metrics.Metrics, logger *zap.Logger) *AppointmentHandler {
	return &AppointmentHandler{bus: bus, pool: pool, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *AppointmentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{id}/status", h.UpdateStatus)
	return r
}

// StatusUpdateRequest is the request body for an appointment status change.
type StatusUpdateRequest struct {
	PatientID      string                   `json:"patient_id"`
	PatientName    string                   `json:"patient_name"`
	PreviousStatus notify.AppointmentStatus `json:"previous_status"`
	NewStatus      notify.AppointmentStatus `json:"new_status"`
	UpdatedBy      notify.Actor             `json:"updated_by"`
	Metadata       map[string]string        `json:"metadata,omitempty"`
}

// UpdateStatus handles POST /appointments/{id}/status.
func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appointmentID := chi.URLParam(r, "id")

	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, ok := req.UpdatedBy.Role.Opposite(); !ok {
		jsonError(w, "updated_by.role must be doctor or front-desk", http.StatusBadRequest)
		return
	}

	if !notify.CanTransition(req.PreviousStatus, req.NewStatus) {
		jsonError(w, fmt.Sprintf("appointment cannot move from %s to %s", req.PreviousStatus, req.NewStatus), http.StatusUnprocessableEntity)
		return
	}

	update := notify.PatientStatusUpdate{
		AppointmentID:  appointmentID,
		PatientID:      req.PatientID,
		PatientName:    req.PatientName,
		PreviousStatus: req.PreviousStatus,
		NewStatus:      req.NewStatus,
		Timestamp:      time.Now().UTC(),
		UpdatedBy:      req.UpdatedBy,
		Metadata:       req.Metadata,
	}

	h.bus.Publish(update)
	h.metrics.BusDeliveries.Inc()

	if err := h.stageStatusUpdate(r, appointmentID, update); err != nil {
		h.logger.Error("stage status update failed",
			zap.String("appointment_id", appointmentID), zap.Error(err))
		jsonError(w, "failed to stage status update", http.StatusInternalServerError)
		return
	}

	h.logger.Info("appointment status updated",
		zap.String("appointment_id", appointmentID),
		zap.String("from", string(req.PreviousStatus)),
		zap.String("to", string(req.NewStatus)),
		zap.String("by_role", string(req.UpdatedBy.Role)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"appointment_id": appointmentID,
		"status":         req.NewStatus,
		"updated_at":     update.Timestamp,
	})
}

func (h *AppointmentHandler) stageStatusUpdate(r *http.Request, appointmentID string, update notify.PatientStatusUpdate) error {
	ctx := r.Context()

	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal status update: %w", err)
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := postgres.WriteEntry(ctx, tx, &postgres.OutboxEntry{
		AggregateID:   appointmentID,
		AggregateType: "Appointment",
		EventType:     "AppointmentStatusChanged",
		Payload:       payload,
		KafkaTopic:    redpanda.TopicStatusUpdates,
		KafkaKey:      appointmentID,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
