package notify

import (
	"context"
	"encoding/json"

	"github.com/nicktill/dbpulse/pkg/models"
)

// MessageTypeAlertEvent tags alert events on every channel.
const MessageTypeAlertEvent = "alert_event"

// Message is the JSON envelope sent to subscribers.
type Message struct {
	Type  string            `json:"type"`
	Event models.AlertEvent `json:"event"`
}

// Encode wraps ev in a Message and marshals it.
func Encode(ev models.AlertEvent) ([]byte, error) {
	return json.Marshal(Message{Type: MessageTypeAlertEvent, Event: ev})
}

// Checker is an external sink whose reachability is reported by /v1/health.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}
