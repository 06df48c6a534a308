package store

import (
	"errors"

	"tutorchat/pkg/domain"
)

// ErrNotFound indicates the requested attachment record does not exist.
var ErrNotFound = errors.New("attachment not found")

// AttachmentStore defines persistence operations for attachment records.
//
// SetTerminalState is the only mutation of extraction state and is write-once:
// implementations must leave an already-terminal record untouched and report
// applied=false, so a duplicate dispatcher invocation is a no-op.
type AttachmentStore interface {
	Create(att domain.Attachment) error
	Get(id string) (domain.Attachment, error)
	// GetMany returns records for the given ids in the requested order,
	// skipping ids that do not exist.
	GetMany(ids []string) ([]domain.Attachment, error)
	SetTerminalState(id string, state domain.ExtractionState, text string, meta domain.ExtractionMeta) (applied bool, err error)
	// LinkToMessage sets the message reference at most once.
	LinkToMessage(id, messageID string) error
	ListByMessage(messageID string) ([]domain.Attachment, error)
	ListByConversation(conversationID string) ([]domain.Attachment, error)
	ListByOwner(ownerID string) ([]domain.Attachment, error)
	// DeleteByConversation removes all attachment records of a conversation,
	// used by cascading conversation/account deletion.
	DeleteByConversation(conversationID string) error
	DeleteByOwner(ownerID string) error
}
