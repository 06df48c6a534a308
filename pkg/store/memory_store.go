package store

import (
	"fmt"
	"sync"
	"time"

	"tutorchat/pkg/domain"
)

// MemoryStore keeps attachment records in-process. It backs tests and the
// storeless dev mode.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]domain.Attachment
	// link order per message, so composition sees attachments in the order
	// they were linked.
	linked map[string][]string
	order  []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[string]domain.Attachment),
		linked: make(map[string][]string),
	}
}

// Create stores a new attachment record.
func (m *MemoryStore) Create(att domain.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[att.ID]; exists {
		return fmt.Errorf("attachment %s already exists", att.ID)
	}
	m.items[att.ID] = att
	m.order = append(m.order, att.ID)
	return nil
}

// Get retrieves an attachment by id.
func (m *MemoryStore) Get(id string) (domain.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	att, ok := m.items[id]
	if !ok {
		return domain.Attachment{}, ErrNotFound
	}
	return att, nil
}

// GetMany retrieves attachments preserving the requested order, skipping
// missing ids.
func (m *MemoryStore) GetMany(ids []string) ([]domain.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]domain.Attachment, 0, len(ids))
	for _, id := range ids {
		if att, ok := m.items[id]; ok {
			result = append(result, att)
		}
	}
	return result, nil
}

// SetTerminalState applies the extraction outcome once; already-terminal
// records are left untouched.
func (m *MemoryStore) SetTerminalState(id string, state domain.ExtractionState, text string, meta domain.ExtractionMeta) (bool, error) {
	if !state.Terminal() {
		return false, fmt.Errorf("set terminal state: %q is not terminal", state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	att, ok := m.items[id]
	if !ok {
		return false, ErrNotFound
	}
	if att.ExtractionState.Terminal() {
		return false, nil
	}
	att.ExtractionState = state
	att.ExtractedText = &text
	att.UpdatedAt = time.Now().UTC()
	m.items[id] = att
	return true, nil
}

// LinkToMessage sets the message reference at most once.
func (m *MemoryStore) LinkToMessage(id, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	att, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	if att.MessageID != nil {
		return nil
	}
	att.MessageID = &messageID
	att.UpdatedAt = time.Now().UTC()
	m.items[id] = att
	m.linked[messageID] = append(m.linked[messageID], id)
	return nil
}

// ListByMessage returns attachments in the order they were linked.
func (m *MemoryStore) ListByMessage(messageID string) ([]domain.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.linked[messageID]
	result := make([]domain.Attachment, 0, len(ids))
	for _, id := range ids {
		if att, ok := m.items[id]; ok {
			result = append(result, att)
		}
	}
	return result, nil
}

// ListByConversation returns all attachments of a conversation in upload order.
func (m *MemoryStore) ListByConversation(conversationID string) ([]domain.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []domain.Attachment
	for _, id := range m.order {
		if att, ok := m.items[id]; ok && att.ConversationID == conversationID {
			result = append(result, att)
		}
	}
	return result, nil
}

// ListByOwner returns all attachments of an owner in upload order.
func (m *MemoryStore) ListByOwner(ownerID string) ([]domain.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []domain.Attachment
	for _, id := range m.order {
		if att, ok := m.items[id]; ok && att.OwnerID == ownerID {
			result = append(result, att)
		}
	}
	return result, nil
}

// DeleteByConversation removes all records of a conversation.
func (m *MemoryStore) DeleteByConversation(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteWhere(func(att domain.Attachment) bool {
		return att.ConversationID == conversationID
	})
	return nil
}

// DeleteByOwner removes all records owned by a principal.
func (m *MemoryStore) DeleteByOwner(ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteWhere(func(att domain.Attachment) bool {
		return att.OwnerID == ownerID
	})
	return nil
}

func (m *MemoryStore) deleteWhere(match func(domain.Attachment) bool) {
	filtered := m.order[:0]
	for _, id := range m.order {
		att, ok := m.items[id]
		if ok && match(att) {
			delete(m.items, id)
			if att.MessageID != nil {
				m.unlink(*att.MessageID, id)
			}
			continue
		}
		filtered = append(filtered, id)
	}
	m.order = filtered
}

func (m *MemoryStore) unlink(messageID, id string) {
	ids := m.linked[messageID]
	kept := ids[:0]
	for _, linkedID := range ids {
		if linkedID != id {
			kept = append(kept, linkedID)
		}
	}
	if len(kept) == 0 {
		delete(m.linked, messageID)
		return
	}
	m.linked[messageID] = kept
}
