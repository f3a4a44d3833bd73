package ws

import (
	"time"

	"visiontrigger/internal/pipeline"
)

// EventMessage is the JSON frame sent to clients
type EventMessage struct {
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Seq       uint64            `json:"seq,omitempty"`
	Objects   []ObjectDetection `json:"objects,omitempty"`
	TaskID    string            `json:"task_id,omitempty"`
	Status    string            `json:"status,omitempty"`
	Peer      string            `json:"peer,omitempty"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// ObjectDetection is a detection with its box as [x, y, w, h] pixels
type ObjectDetection struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	BBox       []int   `json:"bbox"`
}

// NewEventMessage converts a bus event into its wire form
func NewEventMessage(event *pipeline.Event) *EventMessage {
	msg := &EventMessage{
		Type:      string(event.Type),
		ID:        event.ID,
		Timestamp: event.Timestamp,
		Seq:       event.Seq,
		TaskID:    event.TaskID,
		Status:    event.Status,
		Peer:      event.Peer,
		Message:   event.Message,
		Error:     event.Error,
	}
	for _, d := range event.Detections {
		msg.AddObject(d)
	}
	return msg
}

// AddObject appends a detection to the message
func (m *EventMessage) AddObject(d pipeline.Detection) {
	m.Objects = append(m.Objects, ObjectDetection{
		Class:      d.Label,
		Confidence: d.Confidence,
		BBox:       []int{d.BBox.X0, d.BBox.Y0, d.BBox.Width(), d.BBox.Height()},
	})
}
