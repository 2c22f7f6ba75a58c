package audit

import "time"

// HubCall records one outbound Hub call. Payload fields are already
// masked by the caller; nothing in here may contain raw PII.
type HubCall struct {
	Timestamp time.Time         `json:"timestamp"`
	Operation string            `json:"operation"`
	Payload   map[string]string `json:"payload,omitempty"`
	Status    int               `json:"status"`
	Message   string            `json:"message"`
	Attempts  int               `json:"attempts"`
	Success   bool              `json:"success"`
}
