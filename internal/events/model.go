// README: Decision and override events published to audit and analytics consumers.
package events

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"lastmile/internal/types"
)

type Type string

const (
	TypeDecisionRecorded Type = "decision.recorded"
	TypeOverrideRecorded Type = "override.recorded"
)

// Event is delivered at least once. Consumers deduplicate on RecordID.
type Event struct {
	Type       Type            `json:"type"`
	RecordID   types.ID        `json:"record_id"`
	ParcelID   types.ID        `json:"parcel_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// New encodes payload into an event.
func New(t Type, recordID, parcelID types.ID, at time.Time, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.Wrapf(err, "encode %s payload", t)
	}
	return Event{Type: t, RecordID: recordID, ParcelID: parcelID, OccurredAt: at.UTC(), Payload: raw}, nil
}
