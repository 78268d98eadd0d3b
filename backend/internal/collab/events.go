package collab

import "time"

const (
	EventDraftSaved   = "DRAFT_SAVED"
	EventTitleUpdated = "TITLE_UPDATED"
)

// 写到 kafka 的文档事件，key 为 docId
type DocEvent struct {
	EventType  string    `json:"eventType"`
	DocID      string    `json:"docId"`
	Revision   uint64    `json:"revision,omitempty"`
	Title      string    `json:"title,omitempty"`
	Citations  []string  `json:"citations,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
