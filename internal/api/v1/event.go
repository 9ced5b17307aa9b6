package v1

import (
	"fmt"
	"time"

	"github.com/aevon-lab/tally/internal/core/aggregation"
	"github.com/aevon-lab/tally/internal/core/pipeline"
	"github.com/aevon-lab/tally/internal/core/query"
	"github.com/shopspring/decimal"
)

// Event is one activity record as stored by the backend.
// The known attributes are lifted out of the row; everything else stays in Data.
type Event struct {
	// ID is the backend document id (_id), falling back to an "id" field.
	ID string `json:"id"`

	TeamID    string `json:"team_id,omitempty"`
	PlayerID  string `json:"player_id,omitempty"`
	CompanyID string `json:"company_id,omitempty"`

	// Action names what the player did (e.g. "quiz.completed").
	Action string `json:"action,omitempty"`

	// Status is "locked" for points still pending release.
	Status string `json:"status,omitempty"`

	Points    decimal.Decimal `json:"points"`
	CreatedAt time.Time       `json:"created_at"`

	Data map[string]interface{} `json:"data,omitempty"`
}

// Clone returns a copy of e that shares no mutable state with it.
func (e Event) Clone() Event {
	if e.Data != nil {
		e.Data = cloneValue(e.Data).(map[string]interface{})
	}
	return e
}

// cloneValue copies the map and slice containers produced by JSON decoding.
func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// Locked reports whether the event's points are still locked.
func (e *Event) Locked() bool {
	return e.Status == query.StatusLocked
}

var knownFields = map[string]struct{}{
	"_id":                {},
	"id":                 {},
	query.FieldTeamID:    {},
	query.FieldPlayerID:  {},
	query.FieldCompanyID: {},
	query.FieldAction:    {},
	query.FieldStatus:    {},
	query.FieldPoints:    {},
	query.FieldCreatedAt: {},
}

// EventFromRow maps a raw result row into an Event and validates it.
func EventFromRow(row map[string]interface{}) (Event, error) {
	e := Event{
		ID:        aggregation.ExtractString(row, "_id"),
		TeamID:    aggregation.ExtractString(row, query.FieldTeamID),
		PlayerID:  aggregation.ExtractString(row, query.FieldPlayerID),
		CompanyID: aggregation.ExtractString(row, query.FieldCompanyID),
		Action:    aggregation.ExtractString(row, query.FieldAction),
		Status:    aggregation.ExtractString(row, query.FieldStatus),
		Points:    aggregation.ExtractDecimal(row, query.FieldPoints),
	}
	if e.ID == "" {
		e.ID = aggregation.ExtractString(row, "id")
	}
	if raw, ok := row[query.FieldCreatedAt]; ok {
		at, ok := pipeline.ParseInstant(raw)
		if !ok {
			return Event{}, fmt.Errorf("event %q: unreadable %s %v", e.ID, query.FieldCreatedAt, raw)
		}
		e.CreatedAt = at
	}

	for k, v := range row {
		if _, known := knownFields[k]; known {
			continue
		}
		if e.Data == nil {
			e.Data = make(map[string]interface{})
		}
		e.Data[k] = v
	}

	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Validate ensures the event has the attributes every query relies on.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}

	if e.TeamID == "" && e.PlayerID == "" && e.CompanyID == "" {
		return fmt.Errorf("event %s: one of %s, %s, %s is required",
			e.ID, query.FieldTeamID, query.FieldPlayerID, query.FieldCompanyID)
	}

	if e.CreatedAt.IsZero() {
		return fmt.Errorf("event %s: %s is required", e.ID, query.FieldCreatedAt)
	}

	return nil
}
