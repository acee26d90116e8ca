package event

import "time"

type DraftEventType string

const (
	DraftSubmitted DraftEventType = "draft.submitted"
	DraftConfirmed DraftEventType = "draft.confirmed"
	DraftRejected  DraftEventType = "draft.rejected"
	DraftAnnotated DraftEventType = "draft.annotated"
)

// DraftEvent is published on every payment draft change and feeds the admin live view.
type DraftEvent struct {
	EventID       string         `json:"event_id"`
	Type          DraftEventType `json:"type"`
	DraftID       string         `json:"draft_id"`
	StudentID     string         `json:"student_id"`
	RoomNumber    string         `json:"room_number,omitempty"`
	Month         string         `json:"month,omitempty"`
	Method        string         `json:"method"`
	Amount        string         `json:"amount"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Status        string         `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
}
