package discussion

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Message is one entry of a course discussion channel.
type Message struct {
	ID         string `json:"_id"`
	CourseID   string `json:"courseId"`
	SenderID   string `json:"senderId"`
	SenderRole Role   `json:"senderRole"`
	SenderName string `json:"senderName,omitempty"`
	Body       string `json:"message"`
	Timestamp  string `json:"timestamp"`
	Pending    bool   `json:"pending,omitempty"`
}

// UnmarshalJSON accepts both the Mongo-style "_id" and a plain "id".
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var aux struct {
		plain
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = Message(aux.plain)
	if m.ID == "" {
		m.ID = aux.AltID
	}
	return nil
}

// Time parses Timestamp. ok is false for ill-formed values.
func (m Message) Time() (t time.Time, ok bool) {
	return ParseTimestamp(m.Timestamp)
}

// ParseTimestamp parses an ISO-8601 timestamp as produced by the LMS API.
func ParseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t the way the API expects in timestamp_gt.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// NewMessage is the create payload for POST /courseChats.
type NewMessage struct {
	CourseID   string `json:"courseId"`
	SenderID   string `json:"senderId"`
	SenderRole Role   `json:"senderRole"`
	Body       string `json:"message"`
	Timestamp  string `json:"timestamp"`
}

// EventType names a channel change pushed to subscribers.
type EventType string

const (
	EventSnapshot  EventType = "snapshot"
	EventAppended  EventType = "appended"
	EventConfirmed EventType = "confirmed"
	EventDiscarded EventType = "discarded"
	EventNotify    EventType = "notify"
)

// Event is a change to a course channel.
type Event struct {
	Type     EventType `json:"event"`
	CourseID string    `json:"courseId"`
	Messages []Message `json:"messages,omitempty"`
	TempID   string    `json:"tempId,omitempty"`
	Count    int       `json:"count,omitempty"`
}
