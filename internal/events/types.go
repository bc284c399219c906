package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeNDARequested = "nda.requested"
	EventTypeNDAApproved  = "nda.approved"
	EventTypeNDARejected  = "nda.rejected"
	EventTypeNDASigned    = "nda.signed"
	EventTypeNDARevoked   = "nda.revoked"
	EventTypeNDAExpired   = "nda.expired"

	EventTypeGrantIssued  = "grant.issued"
	EventTypeGrantRevoked = "grant.revoked"
)

type BaseEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
}

// AgreementEvent is the notification handoff emitted on every NDA
// lifecycle transition. Delivery is out of scope; correctness never
// depends on it.
type AgreementEvent struct {
	EventType   string `json:"eventType"`
	AgreementID string `json:"agreementId"`
	ResourceID  string `json:"resourceId"`
	RequesterID string `json:"requesterId"`
	OwnerID     string `json:"ownerId"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

type GrantEvent struct {
	EventType    string `json:"eventType"`
	UserID       string `json:"userId"`
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
	Level        string `json:"level,omitempty"`
	Method       string `json:"method,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

func (e *AgreementEvent) ToJSON() ([]byte, error) {
	return json.Marshal(envelope(e.EventType, e))
}

func (e *GrantEvent) ToJSON() ([]byte, error) {
	return json.Marshal(envelope(e.EventType, e))
}

type eventEnvelope struct {
	BaseEvent
	Payload any `json:"payload"`
}

func envelope(eventType string, payload any) *eventEnvelope {
	return &eventEnvelope{
		BaseEvent: BaseEvent{
			ID:        uuid.NewString(),
			Type:      eventType,
			Timestamp: time.Now().Unix(),
			Version:   "1.0",
		},
		Payload: payload,
	}
}
