package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened in the control loop
type EventType string

const (
	EventDetections   EventType = "detections"    // a batch containing the target
	EventCaptureError EventType = "capture_error" // detection source failed a cycle
	EventFire         EventType = "fire"          // trigger policy fired and the guard admitted the task
	EventFireDropped  EventType = "fire_dropped"  // trigger fired while an actuation was in flight
	EventActuation    EventType = "actuation"     // actuation task finished (Error set on failure)
	EventLink         EventType = "link"          // link session changed state
	EventNotification EventType = "notification"  // message received from the peer
)

// Event is one observable step of the detection-to-actuation flow
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
	Seq        uint64      `json:"seq,omitempty"`
	Detections []Detection `json:"detections,omitempty"`
	TaskID     string      `json:"task_id,omitempty"`
	Status     string      `json:"status,omitempty"` // link status for EventLink
	Peer       string      `json:"peer,omitempty"`
	Message    string      `json:"message,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// NewEvent creates an event of the given type stamped with a fresh id
func NewEvent(eventType EventType) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// WithError records err on the event and returns it
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
