package query

import (
	"encoding/json"

	"docqa/internal/models"
)

type EventType string

const (
	EventToken     EventType = "token"
	EventCitations EventType = "citations"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

type Event struct {
	Type      EventType
	Token     string
	Citations []models.Citation
	LatencyMS int64
	Err       string
}

// Data renders the SSE data field: the raw fragment for token, a JSON object
// for citations and error, and nothing for done.
func (e Event) Data() string {
	switch e.Type {
	case EventToken:
		return e.Token
	case EventCitations:
		citations := e.Citations
		if citations == nil {
			citations = []models.Citation{}
		}
		b, _ := json.Marshal(struct {
			Citations []models.Citation `json:"citations"`
			LatencyMS int64             `json:"latency_ms"`
		}{citations, e.LatencyMS})
		return string(b)
	case EventError:
		b, _ := json.Marshal(map[string]string{"error": e.Err})
		return string(b)
	default:
		return ""
	}
}
