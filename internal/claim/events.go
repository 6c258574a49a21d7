package claim

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventBatchCompleted EventType = "BatchCompleted"
	EventClaimPromoted  EventType = "ClaimPromoted"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: "ClaimBatch",
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// BatchCompletedData contains the final counters of a committed batch
type BatchCompletedData struct {
	BatchID     string    `json:"batch_id"`
	FileName    string    `json:"file_name"`
	FileHash    string    `json:"file_hash"`
	Valid       int       `json:"valid"`
	Invalid     int       `json:"invalid"`
	Processed   int       `json:"processed"`
	CompletedAt time.Time `json:"completed_at"`
}

// ClaimPromotedData contains the adjudication outcome of one promoted record
type ClaimPromotedData struct {
	FileName      string    `json:"file_name"`
	Position      int       `json:"position"`
	MemberKey     int64     `json:"member_key"`
	DrugKey       int64     `json:"drug_key"`
	PharmacyKey   int64     `json:"pharmacy_key"`
	ClaimID       int64     `json:"claim_id"`
	Status        string    `json:"status"`
	Copay         float64   `json:"copay"`
	PlanPaid      float64   `json:"plan_paid"`
	RejectionCode string    `json:"rejection_code,omitempty"`
	PromotedAt    time.Time `json:"promoted_at"`
}
