package treatment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/brightsmile/careflow/internal/infrastructure/postgres"
)

// EventsTopic is the Kafka topic treatment events are relayed to via
// the transactional outbox.
const EventsTopic = "treatment.events"

// Repository persists workflow events and stages outbox rows for them
// in the same transaction, so a committed status change always reaches
// the event stream.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a workflow event store.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Save persists uncommitted events for an episode along with their
// outbox rows.
func (r *Repository) Save(ctx context.Context, w *Workflow) error {
	if len(w.Changes()) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, event := range w.Changes() {
		event.Version = w.Version() - len(w.Changes()) + i + 1
		if err := r.insertEvent(ctx, tx, event); err != nil {
			return err
		}
		if err := r.stageOutbox(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	w.ClearChanges()
	return nil
}

func (r *Repository) insertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	query := `
		INSERT INTO treatment_events
		(event_id, aggregate_id, event_type, event_data, version, actor_role, actor_id, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, query,
		event.ID,
		event.AggregateID,
		event.EventType,
		event.EventData,
		event.Version,
		event.ActorRole,
		event.ActorID,
		event.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *Repository) stageOutbox(ctx context.Context, tx pgx.Tx, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	return postgres.WriteEntry(ctx, tx, &postgres.OutboxEntry{
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     string(event.EventType),
		Payload:       payload,
		KafkaTopic:    EventsTopic,
		KafkaKey:      event.AggregateID,
	})
}

// Load retrieves a workflow aggregate by episode ID.
func (r *Repository) Load(ctx context.Context, id string) (*Workflow, error) {
	events, err := r.GetEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("treatment not found: %s", id)
	}

	w := Rehydrate(id)
	w.LoadFromHistory(events)
	return w, nil
}

// GetEvents retrieves all events for an episode in version order.
func (r *Repository) GetEvents(ctx context.Context, aggregateID string) ([]*Event, error) {
	query := `
		SELECT event_id, aggregate_id, event_type, event_data, version, timestamp,
		       actor_role, actor_id, correlation_id
		FROM treatment_events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`

	rows, err := r.pool.Query(ctx, query, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{AggregateType: "Treatment"}
		err := rows.Scan(
			&e.ID, &e.AggregateID, &e.EventType, &e.EventData, &e.Version,
			&e.Timestamp, &e.ActorRole, &e.ActorID, &e.CorrelationID,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// FindByExam returns the episode ID opened for an exam, if any.
func (r *Repository) FindByExam(ctx context.Context, examID string) (string, error) {
	query := `
		SELECT aggregate_id
		FROM treatment_events
		WHERE event_type = $1
		  AND event_data ->> 'exam_id' = $2
		ORDER BY timestamp ASC
		LIMIT 1
	`

	var id string
	err := r.pool.QueryRow(ctx, query, EventTreatmentCreated, examID).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("no treatment for exam %s: %w", examID, err)
		}
		return "", err
	}
	return id, nil
}
