package storage

import (
	"time"

	"trichat/internal/llm"
)

// Event records one dispatch: the user's message, the reply that was
// persisted to history, and every provider outcome.
// Events are expected to be appended in chronological order.
type Event struct {
	Timestamp         time.Time     `json:"timestamp"`
	ConversationID    string        `json:"conversation_id"`
	UserMessage       string        `json:"user_message"`
	PrimaryModel      string        `json:"primary_model"`
	AssistantResponse string        `json:"assistant_response"`
	Outcomes          []llm.Outcome `json:"outcomes"`
}

// Recorder abstracts persistence of interaction events.
// Loads should return events in chronological order.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
	// LoadInteractionsBetween returns events with from <= Timestamp < to.
	LoadInteractionsBetween(from, to time.Time) ([]Event, error)
}

func inRange(ts, from, to time.Time) bool {
	return !ts.Before(from) && ts.Before(to)
}
