package domain

import "time"

// ExtractionState is the lifecycle stage of an attachment's text extraction.
type ExtractionState string

const (
	ExtractionPending   ExtractionState = "pending"
	ExtractionSucceeded ExtractionState = "succeeded"
	ExtractionFailed    ExtractionState = "failed"
)

// Terminal reports whether extraction has reached a final outcome.
// Terminal states are write-once and never revert to pending.
func (s ExtractionState) Terminal() bool {
	return s == ExtractionSucceeded || s == ExtractionFailed
}

// Attachment is a stored file associated with a conversation message,
// tracked through the extraction lifecycle.
type Attachment struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"ownerId"`
	ConversationID   string          `json:"conversationId"`
	MessageID        *string         `json:"messageId,omitempty"`
	FileName         string          `json:"fileName"`
	DeclaredMIMEType string          `json:"declaredMimeType"`
	ByteSize         int64           `json:"byteSize"`
	StoragePath      string          `json:"-"`
	ExtractionState  ExtractionState `json:"extractionState"`
	// ExtractedText is non-nil iff ExtractionState != pending. On failure it
	// holds a human-readable sentinel, never raw error detail.
	ExtractedText *string   `json:"extractedText,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ExtractionMeta captures diagnostics about how a terminal state was produced.
type ExtractionMeta struct {
	Method     string `json:"method,omitempty"`
	Pages      int    `json:"pages,omitempty"`
	DurationMS int64  `json:"durationMs,omitempty"`
}

// Message is the conversation message attachments can be linked to.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}
